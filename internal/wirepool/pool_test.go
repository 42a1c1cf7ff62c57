package wirepool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/wrp-go/v3"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoders := NewEncoderPool(2, 0, wrp.Msgpack)
	decoders := NewDecoderPool(2, wrp.Msgpack)

	source := &wrp.Message{
		Type:   wrp.SimpleEventMessageType,
		Source: "dns:trackerd",
	}

	var buf bytes.Buffer
	require.NoError(t, encoders.Encode(&buf, source))

	var dest wrp.Message
	require.NoError(t, decoders.Decode(&dest, bytes.NewReader(buf.Bytes())))
	assert.Equal(t, source.Source, dest.Source)
}

func TestEncodeBytesRoundTrip(t *testing.T) {
	encoders := NewEncoderPool(1, 0, wrp.Msgpack)
	decoders := NewDecoderPool(1, wrp.Msgpack)

	source := &wrp.Message{Type: wrp.SimpleEventMessageType, Source: "dns:trackerd"}

	data, err := encoders.EncodeBytes(source)
	require.NoError(t, err)

	var dest wrp.Message
	require.NoError(t, decoders.DecodeBytes(&dest, data))
	assert.Equal(t, source.Source, dest.Source)
}

func TestPoolGetNeverReturnsNil(t *testing.T) {
	encoders := NewEncoderPool(0, 0, wrp.Msgpack)
	for i := 0; i < 5; i++ {
		e := encoders.Get()
		require.NotNil(t, e)
		encoders.Put(e)
	}
}

func TestPutIgnoresNil(t *testing.T) {
	encoders := NewEncoderPool(1, 0, wrp.Msgpack)
	assert.NotPanics(t, func() { encoders.Put(nil) })

	decoders := NewDecoderPool(1, wrp.Msgpack)
	assert.NotPanics(t, func() { decoders.Put(nil) })
}
