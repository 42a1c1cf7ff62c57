// Package model holds the plain data types shared by the connection manager
// and its external collaborators: devices, endpoints, sessions, positions,
// events and groups.
package model

import "time"

// Status is a device's liveness state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Device is the external identity a DeviceSession is bound to. Ownership of
// this record belongs to the Identity Oracle / Device Manager; the
// connection manager only reads and updates Status/LastUpdate on it.
type Device struct {
	ID         int64
	UniqueID   string
	Disabled   bool
	Status     Status
	LastUpdate time.Time
}

// Endpoint is a transport-layer identity: a channel handle plus the remote
// socket address it was accepted from. Channel is opaque to the core - it is
// never dereferenced, only compared and hashed - so any comparable type
// supplied by a transport adapter (a *websocket.Conn, a net.Conn, a
// generated session id) is valid.
type Endpoint struct {
	Channel    interface{}
	RemoteAddr string
}

// DeviceSession is the immutable binding of a device identity to a live
// endpoint. Once constructed a session is never mutated; rebinding or
// eviction replaces it wholesale in the session table.
type DeviceSession struct {
	DeviceID   int64
	UniqueID   string
	Protocol   string
	Endpoint   Endpoint
	Created    time.Time
	Attributes map[string]interface{}
}

// Position is a single telemetry report from a device.
type Position struct {
	DeviceID  int64
	Time      time.Time
	Latitude  float64
	Longitude float64
	Speed     float64
	Course    float64
	Valid     bool
	Attributes map[string]interface{}
}

// EventType enumerates the synthetic events the core and its state
// evaluators can raise.
type EventType string

const (
	EventDeviceOnline    EventType = "deviceOnline"
	EventDeviceOffline   EventType = "deviceOffline"
	EventDeviceUnknown   EventType = "deviceUnknown"
	EventDeviceMoving    EventType = "deviceMoving"
	EventDeviceStopped   EventType = "deviceStopped"
	EventDeviceOverspeed EventType = "deviceOverspeed"
)

// Event is a synthetic record raised on a device status transition or by a
// state deriver (motion, overspeed) evaluating a position against a device.
type Event struct {
	ID         string
	Type       EventType
	DeviceID   int64
	Time       time.Time
	Attributes map[string]interface{}
}

// Group is a node in the device-grouping forest. A nil ParentID means the
// group is a root.
type Group struct {
	ID       int64
	ParentID *int64
}
