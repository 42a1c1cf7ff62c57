// Package evaluator provides the two built-in state derivers the status
// state machine runs when a device leaves ONLINE and the
// statusUpdateDeviceState policy is enabled: motion and overspeed.
package evaluator

import (
	"time"

	"github.com/google/uuid"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

// motionSpeedThresholdAttribute is the per-device attribute key consulted
// to decide whether a position counts as "moving".
const motionSpeedThresholdAttribute = "motionStreak.speedThreshold"

// defaultMotionSpeedThreshold is used when a device has no override.
const defaultMotionSpeedThreshold = 0.01 // knots

// Motion raises deviceMoving/deviceStopped events by comparing a position's
// speed against a per-device threshold.
type Motion struct {
	Devices oracle.DeviceManager
}

var _ oracle.Evaluator = (*Motion)(nil)

// Evaluate implements oracle.Evaluator.
func (m *Motion) Evaluate(device *model.Device, position *model.Position) []*model.Event {
	if position == nil {
		return nil
	}

	threshold := defaultMotionSpeedThreshold
	if m.Devices != nil {
		threshold = m.Devices.LookupAttributeDouble(device.ID, motionSpeedThresholdAttribute, defaultMotionSpeedThreshold)
	}

	eventType := model.EventDeviceStopped
	if position.Speed > threshold {
		eventType = model.EventDeviceMoving
	}

	return []*model.Event{{
		ID:       uuid.NewString(),
		Type:     eventType,
		DeviceID: device.ID,
		Time:     time.Now(),
		Attributes: map[string]interface{}{
			"speed": position.Speed,
		},
	}}
}
