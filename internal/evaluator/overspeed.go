package evaluator

import (
	"time"

	"github.com/google/uuid"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

// speedLimitAttribute is the per-device attribute key holding the
// configured speed limit, in the same units as Position.Speed.
const speedLimitAttribute = "speedLimit"

// Overspeed raises a deviceOverspeed event when a position's speed exceeds
// the device's configured limit. A device with no configured limit (limit
// <= 0) never triggers.
type Overspeed struct {
	Devices oracle.DeviceManager
}

var _ oracle.Evaluator = (*Overspeed)(nil)

// Evaluate implements oracle.Evaluator.
func (o *Overspeed) Evaluate(device *model.Device, position *model.Position) []*model.Event {
	if position == nil || o.Devices == nil {
		return nil
	}

	limit := o.Devices.LookupAttributeDouble(device.ID, speedLimitAttribute, 0)
	if limit <= 0 || position.Speed <= limit {
		return nil
	}

	return []*model.Event{{
		ID:       uuid.NewString(),
		Type:     model.EventDeviceOverspeed,
		DeviceID: device.ID,
		Time:     time.Now(),
		Attributes: map[string]interface{}{
			"speed": position.Speed,
			"speedLimit": limit,
		},
	}}
}
