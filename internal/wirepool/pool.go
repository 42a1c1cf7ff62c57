// Package wirepool adapts webpa-common's wrp.EncoderPool/DecoderPool
// (wrp/pool.go) to the WRP envelope a protocol transport adapter uses to
// carry telemetry frames to and from the connection manager. Unlike a
// sync.Pool, these pools hold on to their encoders/decoders across garbage
// collections, which matters on a server handling thousands of concurrent
// device connections.
package wirepool

import (
	"io"

	"github.com/xmidt-org/wrp-go/v3"
)

const (
	// DefaultPoolSize is used when a non-positive pool size is requested.
	DefaultPoolSize = 100

	// DefaultInitialBufferSize seeds EncodeBytes's destination buffer.
	DefaultInitialBufferSize = 200
)

// EncoderPool is a pool of wrp.Encoder instances for a single wire format.
type EncoderPool struct {
	pool              chan wrp.Encoder
	factory           func() wrp.Encoder
	initialBufferSize int
}

// NewEncoderPool returns an EncoderPool for format f.
func NewEncoderPool(poolSize, initialBufferSize int, f wrp.Format) *EncoderPool {
	if poolSize < 1 {
		poolSize = DefaultPoolSize
	}
	if initialBufferSize < 1 {
		initialBufferSize = DefaultInitialBufferSize
	}

	ep := &EncoderPool{
		pool:              make(chan wrp.Encoder, poolSize),
		factory:           func() wrp.Encoder { return wrp.NewEncoder(nil, f) },
		initialBufferSize: initialBufferSize,
	}
	for i := 0; i < poolSize; i++ {
		ep.pool <- ep.factory()
	}
	return ep
}

// Get returns an Encoder from the pool, creating one if the pool is empty.
// Never returns nil.
func (ep *EncoderPool) Get() (encoder wrp.Encoder) {
	select {
	case encoder = <-ep.pool:
	default:
		encoder = ep.factory()
	}
	return
}

// Put returns encoder to the pool. A full pool or a nil encoder is
// silently ignored.
func (ep *EncoderPool) Put(encoder wrp.Encoder) {
	if encoder == nil {
		return
	}
	select {
	case ep.pool <- encoder:
	default:
	}
}

// Encode writes source into destination using a pooled Encoder.
func (ep *EncoderPool) Encode(destination io.Writer, source interface{}) error {
	encoder := ep.Get()
	defer ep.Put(encoder)

	encoder.Reset(destination)
	return encoder.Encode(source)
}

// EncodeBytes encodes source into a freshly allocated byte slice, seeded at
// the pool's configured initial buffer size to cut down on reallocation.
func (ep *EncoderPool) EncodeBytes(source interface{}) ([]byte, error) {
	data := make([]byte, 0, ep.initialBufferSize)
	encoder := ep.Get()
	defer ep.Put(encoder)

	encoder.ResetBytes(&data)
	err := encoder.Encode(source)
	return data, err
}

// DecoderPool is a pool of wrp.Decoder instances for a single wire format.
type DecoderPool struct {
	pool    chan wrp.Decoder
	factory func() wrp.Decoder
}

// NewDecoderPool returns a DecoderPool for format f.
func NewDecoderPool(poolSize int, f wrp.Format) *DecoderPool {
	if poolSize < 1 {
		poolSize = DefaultPoolSize
	}

	dp := &DecoderPool{
		pool:    make(chan wrp.Decoder, poolSize),
		factory: func() wrp.Decoder { return wrp.NewDecoder(nil, f) },
	}
	for i := 0; i < poolSize; i++ {
		dp.pool <- dp.factory()
	}
	return dp
}

// Get returns a Decoder from the pool, creating one if the pool is empty.
// Never returns nil.
func (dp *DecoderPool) Get() (decoder wrp.Decoder) {
	select {
	case decoder = <-dp.pool:
	default:
		decoder = dp.factory()
	}
	return
}

// Put returns decoder to the pool. A full pool or a nil decoder is
// silently ignored.
func (dp *DecoderPool) Put(decoder wrp.Decoder) {
	if decoder == nil {
		return
	}
	select {
	case dp.pool <- decoder:
	default:
	}
}

// Decode unmarshals source onto destination using a pooled Decoder.
func (dp *DecoderPool) Decode(destination interface{}, source io.Reader) error {
	decoder := dp.Get()
	defer dp.Put(decoder)

	decoder.Reset(source)
	return decoder.Decode(destination)
}

// DecodeBytes unmarshals source onto destination using a pooled Decoder.
func (dp *DecoderPool) DecodeBytes(destination interface{}, source []byte) error {
	decoder := dp.Get()
	defer dp.Put(decoder)

	decoder.ResetBytes(source)
	return decoder.Decode(destination)
}
