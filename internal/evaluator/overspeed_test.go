package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

func TestOverspeedNilPositionOrNilDevicesYieldsNoEvents(t *testing.T) {
	o := &Overspeed{}
	assert.Empty(t, o.Evaluate(&model.Device{ID: 1}, &model.Position{DeviceID: 1, Speed: 100}))
	assert.Empty(t, (&Overspeed{Devices: oracle.NewMemoryDeviceManager()}).Evaluate(&model.Device{ID: 1}, nil))
}

func TestOverspeedNoLimitConfiguredNeverTriggers(t *testing.T) {
	devices := oracle.NewMemoryDeviceManager()
	o := &Overspeed{Devices: devices}

	events := o.Evaluate(&model.Device{ID: 1}, &model.Position{DeviceID: 1, Speed: 200})
	assert.Empty(t, events)
}

func TestOverspeedAboveLimitEmitsEvent(t *testing.T) {
	devices := oracle.NewMemoryDeviceManager()
	devices.SetAttribute(1, speedLimitAttribute, 60.0)
	o := &Overspeed{Devices: devices}

	events := o.Evaluate(&model.Device{ID: 1}, &model.Position{DeviceID: 1, Speed: 75})
	require.Len(t, events, 1)
	assert.Equal(t, model.EventDeviceOverspeed, events[0].Type)
}

func TestOverspeedAtOrBelowLimitDoesNotTrigger(t *testing.T) {
	devices := oracle.NewMemoryDeviceManager()
	devices.SetAttribute(1, speedLimitAttribute, 60.0)
	o := &Overspeed{Devices: devices}

	events := o.Evaluate(&model.Device{ID: 1}, &model.Position{DeviceID: 1, Speed: 60})
	assert.Empty(t, events)
}
