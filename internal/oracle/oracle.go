// Package oracle declares the external collaborators the connection
// manager consumes: identity resolution, device persistence, permission
// checks, notification delivery and the hot-device cache. The manager never
// constructs these itself - they are supplied at wiring time.
package oracle

import (
	"context"

	"github.com/comcast/trackerd/internal/model"
)

// IdentityOracle resolves a device-supplied unique identifier to a
// persistent Device record, optionally auto-registering unknown ones.
type IdentityOracle interface {
	ByID(ctx context.Context, deviceID int64) (*model.Device, error)
	ByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error)
	AddUnknownDevice(ctx context.Context, uniqueID string) (*model.Device, error)
}

// DeviceManager persists device status and exposes the small attribute and
// last-position lookups the status state machine and its evaluators need.
type DeviceManager interface {
	// GetDeviceState returns the most recently recorded position for a
	// device, if any. The status state machine feeds this to the motion
	// and overspeed evaluators - the evaluators never see raw in-flight
	// position reports, only whatever the Device Manager considers "last
	// known" at the moment of the status transition.
	GetDeviceState(ctx context.Context, deviceID int64) (*model.Position, error)
	UpdateDeviceStatus(ctx context.Context, device *model.Device) error
	LookupAttributeDouble(deviceID int64, key string, def float64) float64
	LookupAttributeBoolean(deviceID int64, key string, def bool) bool
}

// PermissionsOracle answers device-visibility questions for fan-out
// filtering. It is consumed strictly as a boolean/set oracle; evaluating
// how permissions are derived is out of scope for this module.
type PermissionsOracle interface {
	GetDeviceUsers(ctx context.Context, deviceID int64) ([]int64, error)
	CheckDevice(ctx context.Context, userID, deviceID int64) bool
}

// NotificationSink records the events a status transition or evaluator
// produces, alongside the position (if any) that triggered them.
type NotificationSink interface {
	UpdateEvents(ctx context.Context, events map[*model.Event]*model.Position) error
}

// CacheCoordinator tracks which device ids currently have a live session.
type CacheCoordinator interface {
	AddDevice(deviceID int64)
	RemoveDevice(deviceID int64)
}

// Evaluator derives additional events from a status transition. The status
// state machine runs the registered evaluators whenever a device leaves
// ONLINE and the updateDeviceState policy is enabled; the two built-in
// evaluators are motion and overspeed (see the evaluator package).
type Evaluator interface {
	Evaluate(device *model.Device, position *model.Position) []*model.Event
}
