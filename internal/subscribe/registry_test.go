package subscribe

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

type recordingListener struct {
	mu        sync.Mutex
	keepalive int
	devices   []*model.Device
	positions []*model.Position
	events    []*model.Event
}

func (l *recordingListener) OnKeepalive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keepalive++
}

func (l *recordingListener) OnUpdateDevice(d *model.Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices = append(l.devices, d)
}

func (l *recordingListener) OnUpdatePosition(p *model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = append(l.positions, p)
}

func (l *recordingListener) OnUpdateEvent(e *model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) snapshot() (int, int, int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keepalive, len(l.devices), len(l.positions), len(l.events)
}

func TestAddListenerIsIdempotent(t *testing.T) {
	permissions := oracle.NewMemoryPermissionsOracle()
	permissions.Grant(10, 1)
	r := New(nil, permissions)

	listener := &recordingListener{}
	r.AddListener(10, listener)
	r.AddListener(10, listener)

	r.PushDevice(context.Background(), &model.Device{ID: 1})

	keepalive, devices, _, _ := listener.snapshot()
	assert.Equal(t, 0, keepalive)
	assert.Equal(t, 1, devices, "listener registered twice must still receive exactly one delivery")
}

func TestRemoveListenerOnAbsentUserIsNoOp(t *testing.T) {
	r := New(nil, oracle.NewMemoryPermissionsOracle())
	require.NotPanics(t, func() {
		r.RemoveListener(999, &recordingListener{})
	})
}

func TestPushDeviceOnlyReachesAuthorizedUsers(t *testing.T) {
	permissions := oracle.NewMemoryPermissionsOracle()
	permissions.Grant(1, 100)
	r := New(nil, permissions)

	authorized := &recordingListener{}
	unauthorized := &recordingListener{}
	r.AddListener(1, authorized)
	r.AddListener(2, unauthorized)

	r.PushDevice(context.Background(), &model.Device{ID: 100})

	_, authorizedDevices, _, _ := authorized.snapshot()
	_, unauthorizedDevices, _, _ := unauthorized.snapshot()
	assert.Equal(t, 1, authorizedDevices)
	assert.Equal(t, 0, unauthorizedDevices)
}

func TestPushEventBypassesPermissionsOracle(t *testing.T) {
	r := New(nil, nil)
	listener := &recordingListener{}
	r.AddListener(5, listener)

	r.PushEvent(5, &model.Event{Type: model.EventDeviceMoving, DeviceID: 1})

	_, _, _, events := listener.snapshot()
	assert.Equal(t, 1, events)
}

func TestBroadcastKeepaliveReachesEveryListener(t *testing.T) {
	r := New(nil, nil)
	a := &recordingListener{}
	b := &recordingListener{}
	r.AddListener(1, a)
	r.AddListener(2, b)

	r.BroadcastKeepalive()

	aKeepalive, _, _, _ := a.snapshot()
	bKeepalive, _, _, _ := b.snapshot()
	assert.Equal(t, 1, aKeepalive)
	assert.Equal(t, 1, bKeepalive)
}

type panickingListener struct{ recordingListener }

func (p *panickingListener) OnKeepalive() { panic("boom") }

func TestPanickingListenerDoesNotStopDelivery(t *testing.T) {
	r := New(nil, nil)
	bad := &panickingListener{}
	good := &recordingListener{}
	r.AddListener(1, bad)
	r.AddListener(1, good)

	require.NotPanics(t, func() {
		r.BroadcastKeepalive()
	})

	keepalive, _, _, _ := good.snapshot()
	assert.Equal(t, 1, keepalive)
}
