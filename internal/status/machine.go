// Package status implements the device-status state machine: ONLINE /
// OFFLINE / UNKNOWN transitions, the online-decay timeout, and the fan-out
// of the updated device record to subscribers.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/comcast/trackerd/internal/clock"
	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

// Forgetter is the slice of the session table the state machine needs: the
// ability to forget a device (transition it to UNKNOWN and drop it from the
// session indexes) when its online-decay timeout fires. Satisfied by
// *session.Table.
type Forgetter interface {
	Forget(ctx context.Context, deviceID int64)
}

// Fanout is the slice of the subscription registry the state machine needs
// to publish a device record after a transition. Satisfied by
// *subscribe.Registry.
type Fanout interface {
	PushDevice(ctx context.Context, device *model.Device)
}

// Options configures a Machine.
type Options struct {
	Logger log.Logger

	Identity   oracle.IdentityOracle
	Devices    oracle.DeviceManager
	Sink       oracle.NotificationSink
	Evaluators []oracle.Evaluator
	Timer      clock.Timer
	Fanout     Fanout

	// Timeout is the online-decay duration: an ONLINE device with no
	// further status update is demoted to UNKNOWN after this long.
	Timeout time.Duration

	// EvaluateOnTransition mirrors the statusUpdateDeviceState
	// configuration option: when true, motion/overspeed evaluators run
	// whenever a device leaves ONLINE.
	EvaluateOnTransition bool
}

// Machine is the device-status state machine.
type Machine struct {
	logger log.Logger

	identity   oracle.IdentityOracle
	devices    oracle.DeviceManager
	sink       oracle.NotificationSink
	evaluators []oracle.Evaluator
	timer      clock.Timer
	fanout     Fanout

	timeout    time.Duration
	evaluateOn bool

	forgetter Forgetter

	mu       sync.Mutex
	deviceMu map[int64]*sync.Mutex // per-device serialization, see lockFor
	timeouts map[int64]clock.Handle
}

// New constructs a Machine. Call SetForgetter before the first ONLINE
// transition; the manager wiring in internal/core does this immediately
// after construction.
func New(o Options) *Machine {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Machine{
		logger:     logger,
		identity:   o.Identity,
		devices:    o.Devices,
		sink:       o.Sink,
		evaluators: o.Evaluators,
		timer:      o.Timer,
		fanout:     o.Fanout,
		timeout:    o.Timeout,
		evaluateOn: o.EvaluateOnTransition,
		deviceMu:   make(map[int64]*sync.Mutex),
		timeouts:   make(map[int64]clock.Handle),
	}
}

// SetForgetter wires the session table this machine tells to forget a
// device when its online-decay timeout fires.
func (m *Machine) SetForgetter(f Forgetter) {
	m.forgetter = f
}

// lockFor returns the per-device mutex that serializes concurrent
// UpdateStatus calls for the same device id: concurrent updates for the
// same device serialize, the last writer wins status, but every real
// transition still emits its event.
func (m *Machine) lockFor(deviceID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.deviceMu[deviceID]
	if !ok {
		l = &sync.Mutex{}
		m.deviceMu[deviceID] = l
	}
	return l
}

// UpdateStatus resolves the device, applies the status transition, emits a
// transition event when the status actually changed, rearms the
// online-decay timeout, persists, and fans out the updated record.
func (m *Machine) UpdateStatus(ctx context.Context, deviceID int64, newStatus model.Status, observedAt *time.Time) {
	lock := m.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	device, err := m.identity.ByID(ctx, deviceID)
	if err != nil || device == nil {
		level.Warn(m.logger).Log("msg", "find device error", "deviceId", deviceID, "err", err)
		return
	}

	oldStatus := device.Status
	device.Status = newStatus
	if observedAt != nil {
		device.LastUpdate = *observedAt
	}

	if oldStatus != newStatus {
		m.emitTransitionEvent(ctx, device, oldStatus, newStatus)
	}

	m.rearmTimeout(ctx, device, newStatus)

	if err := m.devices.UpdateDeviceStatus(ctx, device); err != nil {
		level.Error(m.logger).Log("msg", "persist device status failed", "deviceId", deviceID, "err", err)
	}

	if m.fanout != nil {
		m.fanout.PushDevice(ctx, device)
	}
}

// emitTransitionEvent raises the deviceOnline/deviceOffline/deviceUnknown
// event for a real transition, additionally running the motion/overspeed
// evaluators when leaving ONLINE and the policy is enabled. Event emission
// happens before persistence and fan-out.
func (m *Machine) emitTransitionEvent(ctx context.Context, device *model.Device, oldStatus, newStatus model.Status) {
	events := map[*model.Event]*model.Position{
		{
			Type:     transitionEventType(newStatus),
			DeviceID: device.ID,
			Time:     time.Now(),
		}: nil,
	}

	if oldStatus == model.StatusOnline && newStatus != model.StatusOnline && m.evaluateOn {
		position, err := m.devices.GetDeviceState(ctx, device.ID)
		if err != nil {
			level.Warn(m.logger).Log("msg", "lookup device state failed", "deviceId", device.ID, "err", err)
		}
		for _, evaluator := range m.evaluators {
			for _, e := range evaluator.Evaluate(device, position) {
				events[e] = position
			}
		}
	}

	if m.sink != nil {
		if err := m.sink.UpdateEvents(ctx, events); err != nil {
			level.Error(m.logger).Log("msg", "notify events failed", "deviceId", device.ID, "err", err)
		}
	}
}

func transitionEventType(s model.Status) model.EventType {
	switch s {
	case model.StatusOnline:
		return model.EventDeviceOnline
	case model.StatusOffline:
		return model.EventDeviceOffline
	default:
		return model.EventDeviceUnknown
	}
}

// rearmTimeout cancels any timeout currently armed for device.ID and, if
// newStatus is ONLINE, arms a fresh one. The invariant that a timeout is
// armed if and only if the device's latest recorded status is ONLINE is
// maintained entirely here.
func (m *Machine) rearmTimeout(ctx context.Context, device *model.Device, newStatus model.Status) {
	m.mu.Lock()
	if prior, ok := m.timeouts[device.ID]; ok {
		delete(m.timeouts, device.ID)
		m.mu.Unlock()
		prior.Cancel()
		m.mu.Lock()
	}

	if newStatus != model.StatusOnline || m.timer == nil {
		m.mu.Unlock()
		return
	}

	deviceID := device.ID
	handle := m.timer.AfterFunc(m.timeout, func() {
		// The timeout fires long after the request that armed it has
		// returned, so it gets a fresh background context rather than
		// the (possibly already-cancelled) caller context.
		if m.forgetter != nil {
			m.forgetter.Forget(context.Background(), deviceID)
		}
	})
	m.timeouts[deviceID] = handle
	m.mu.Unlock()
}
