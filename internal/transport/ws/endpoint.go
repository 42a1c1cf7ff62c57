// Package ws is the websocket transport adapter: it upgrades an inbound HTTP
// request to a device connection, decodes WRP frames into telemetry
// positions, and drives the connection manager's Bind/Disconnect lifecycle
// exactly as webpa-common's device.Manager Connect/readPump/writePump does,
// adapted here to the connection-manager domain instead of a generic WRP
// router.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/xmidt-org/wrp-go/v3"

	"github.com/comcast/trackerd/internal/core"
	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/wirepool"
)

// Report is the wire shape of a single telemetry frame, carried as the
// Payload of a wrp.SimpleEvent message. A protocol decoder upstream of this
// package is responsible for any device-native framing; this endpoint only
// speaks WRP-over-websocket.
type Report struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Course    float64 `json:"course"`
	Valid     bool    `json:"valid"`
}

// PositionSink receives a decoded position for a bound device. The endpoint
// never persists positions itself - that belongs to the Device Manager - it
// only resolves the session and forwards.
type PositionSink interface {
	SavePosition(ctx context.Context, deviceID int64, position *model.Position) error
}

// Endpoint upgrades and services device websocket connections.
type Endpoint struct {
	Manager  *core.Manager
	Sink     PositionSink
	Logger   log.Logger
	Upgrader websocket.Upgrader

	Decoders *wirepool.DecoderPool
	Encoders *wirepool.EncoderPool

	// PingPeriod is how often the write pump sends a websocket ping to keep
	// intermediate proxies from closing an idle connection.
	PingPeriod time.Duration
}

// NewEndpoint constructs an Endpoint with msgpack WRP pools and a permissive
// upgrader: CheckOrigin defaults to allowing all origins, appropriate for a
// device-facing (not browser-facing) socket.
func NewEndpoint(manager *core.Manager, sink PositionSink, logger log.Logger) *Endpoint {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Endpoint{
		Manager: manager,
		Sink:    sink,
		Logger:  logger,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		Decoders:   wirepool.NewDecoderPool(0, wrp.Msgpack),
		Encoders:   wirepool.NewEncoderPool(0, 0, wrp.Msgpack),
		PingPeriod: 30 * time.Second,
	}
}

// ServeHTTP upgrades the connection and binds it into the connection
// manager, using the request's "id" query parameter as the device's
// candidate unique identifier. A protocol that multiplexes many devices over
// one socket would instead resolve ids from the decoded frames; this
// endpoint models the common one-device-per-socket case.
func (e *Endpoint) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	uniqueID := request.URL.Query().Get("id")
	if uniqueID == "" {
		http.Error(response, "missing id parameter", http.StatusBadRequest)
		return
	}

	conn, err := e.Upgrader.Upgrade(response, request, nil)
	if err != nil {
		level.Error(e.Logger).Log("msg", "websocket upgrade failed", "err", err)
		return
	}

	endpoint := model.Endpoint{Channel: conn, RemoteAddr: request.RemoteAddr}

	ctx := request.Context()
	session, err := e.Manager.Bind(ctx, "ws", endpoint, uniqueID)
	if err != nil || session == nil {
		level.Warn(e.Logger).Log("msg", "bind rejected", "uniqueId", uniqueID, "remoteAddr", endpoint.RemoteAddr)
		conn.Close()
		return
	}

	level.Info(e.Logger).Log("msg", "device connected", "deviceId", session.DeviceID, "remoteAddr", endpoint.RemoteAddr)

	closeOnce := new(sync.Once)
	done := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() {
			e.Manager.Disconnect(context.Background(), endpoint)
			conn.Close()
			close(done)
		})
	}

	go e.writePump(conn, closeConn)
	e.readPump(session.DeviceID, conn, closeConn)
	<-done
}

// readPump decodes one WRP message per websocket frame and forwards every
// recognized report to the position sink. It exits, and triggers connection
// teardown, on the first read error - exactly the exit condition
// webpa-common's readPump uses.
func (e *Endpoint) readPump(deviceID int64, conn *websocket.Conn, closeConn func()) {
	defer closeConn()

	decoder := e.Decoders.Get()
	defer e.Decoders.Put(decoder)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			level.Debug(e.Logger).Log("msg", "read error", "deviceId", deviceID, "err", err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		var message wrp.Message
		decoder.ResetBytes(data)
		if err := decoder.Decode(&message); err != nil {
			level.Warn(e.Logger).Log("msg", "malformed WRP frame", "deviceId", deviceID, "err", err)
			continue
		}

		if e.Sink == nil || message.Type != wrp.SimpleEventMessageType {
			continue
		}
		var report Report
		if err := json.Unmarshal(message.Payload, &report); err != nil {
			level.Warn(e.Logger).Log("msg", "malformed report payload", "deviceId", deviceID, "err", err)
			continue
		}
		position := &model.Position{
			DeviceID:  deviceID,
			Time:      time.Now(),
			Latitude:  report.Latitude,
			Longitude: report.Longitude,
			Speed:     report.Speed,
			Course:    report.Course,
			Valid:     report.Valid,
		}
		if err := e.Sink.SavePosition(context.Background(), deviceID, position); err != nil {
			level.Error(e.Logger).Log("msg", "save position failed", "deviceId", deviceID, "err", err)
		}
	}
}

// writePump's only job on this connection is to keep it alive with periodic
// pings; outbound device-directed traffic is out of scope for the connection
// manager core (it belongs to a command dispatch layer this module does not
// implement).
func (e *Endpoint) writePump(conn *websocket.Conn, closeConn func()) {
	ticker := time.NewTicker(e.PingPeriod)
	defer ticker.Stop()
	defer closeConn()

	for range ticker.C {
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}
