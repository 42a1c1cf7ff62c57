package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

// fakeStatusUpdater records UpdateStatus calls instead of driving a real
// state machine, so session-table tests can assert on OFFLINE/UNKNOWN
// transitions without pulling in the status package.
type fakeStatusUpdater struct {
	mu    sync.Mutex
	calls []struct {
		deviceID int64
		status   model.Status
	}
}

func (f *fakeStatusUpdater) UpdateStatus(_ context.Context, deviceID int64, newStatus model.Status, _ *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		deviceID int64
		status   model.Status
	}{deviceID, newStatus})
}

func (f *fakeStatusUpdater) statusesFor(deviceID int64) []model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Status
	for _, c := range f.calls {
		if c.deviceID == deviceID {
			out = append(out, c.status)
		}
	}
	return out
}

func newTestTable(t *testing.T) (*Table, *oracle.MemoryIdentityOracle, *oracle.MemoryCacheCoordinator, *fakeStatusUpdater) {
	t.Helper()
	identity := oracle.NewMemoryIdentityOracle(false)
	cache := oracle.NewMemoryCacheCoordinator()
	table := New(Options{Identity: identity, Cache: cache})
	updater := &fakeStatusUpdater{}
	table.SetStatusUpdater(updater)
	return table, identity, cache, updater
}

func TestBindFirstConnect(t *testing.T) {
	table, identity, cache, _ := newTestTable(t)
	identity.Put(&model.Device{ID: 42, UniqueID: "imei-1"})

	endpoint := model.Endpoint{Channel: "chanA", RemoteAddr: "addr1"}
	s, err := table.Bind(context.Background(), "demo", endpoint, "imei-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, int64(42), s.DeviceID)

	got, ok := table.LookupByDevice(42)
	require.True(t, ok)
	assert.Same(t, s, got)

	assert.True(t, cache.IsHot(42))
}

func TestBindRebindOnDifferentEndpoint(t *testing.T) {
	table, identity, cache, _ := newTestTable(t)
	identity.Put(&model.Device{ID: 42, UniqueID: "imei-1"})

	chanA := model.Endpoint{Channel: "chanA", RemoteAddr: "addr1"}
	chanB := model.Endpoint{Channel: "chanB", RemoteAddr: "addr2"}

	_, err := table.Bind(context.Background(), "demo", chanA, "imei-1")
	require.NoError(t, err)

	s2, err := table.Bind(context.Background(), "demo", chanB, "imei-1")
	require.NoError(t, err)
	require.NotNil(t, s2)

	got, ok := table.LookupByDevice(42)
	require.True(t, ok)
	assert.Equal(t, chanB, got.Endpoint)

	table.mu.Lock()
	_, stillThere := table.byEndpoint[chanA]
	table.mu.Unlock()
	assert.False(t, stillThere, "prior endpoint submap must be fully evicted")

	assert.True(t, cache.IsHot(42))
}

func TestBindUnknownDeviceReturnsNil(t *testing.T) {
	table, _, _, _ := newTestTable(t)

	s, err := table.Bind(context.Background(), "demo", model.Endpoint{Channel: "c", RemoteAddr: "a"}, "nope")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestBindDisabledDeviceReturnsNil(t *testing.T) {
	table, identity, _, _ := newTestTable(t)
	identity.Put(&model.Device{ID: 7, UniqueID: "imei-7", Disabled: true})

	s, err := table.Bind(context.Background(), "demo", model.Endpoint{Channel: "c", RemoteAddr: "a"}, "imei-7")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestBindZeroUniqueIDsReturnsExistingSession(t *testing.T) {
	table, identity, _, _ := newTestTable(t)
	identity.Put(&model.Device{ID: 1, UniqueID: "imei-1"})

	endpoint := model.Endpoint{Channel: "c", RemoteAddr: "a"}
	first, err := table.Bind(context.Background(), "demo", endpoint, "imei-1")
	require.NoError(t, err)

	second, err := table.Bind(context.Background(), "demo", endpoint)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestDisconnectRestoresEmptyState(t *testing.T) {
	table, identity, cache, updater := newTestTable(t)
	identity.Put(&model.Device{ID: 1, UniqueID: "imei-1"})

	endpoint := model.Endpoint{Channel: "c", RemoteAddr: "a"}
	_, err := table.Bind(context.Background(), "demo", endpoint, "imei-1")
	require.NoError(t, err)

	table.Disconnect(context.Background(), endpoint)

	_, ok := table.LookupByDevice(1)
	assert.False(t, ok)

	table.mu.Lock()
	_, stillThere := table.byEndpoint[endpoint]
	table.mu.Unlock()
	assert.False(t, stillThere)

	assert.False(t, cache.IsHot(1))
	assert.Equal(t, []model.Status{model.StatusOffline}, updater.statusesFor(1))
}

func TestDisconnectOnEmptyEndpointIsNoOp(t *testing.T) {
	table, _, _, updater := newTestTable(t)
	table.Disconnect(context.Background(), model.Endpoint{Channel: "ghost", RemoteAddr: "nowhere"})
	assert.Empty(t, updater.calls)
}

func TestForgetRemovesOnlyOneDeviceFromMultiplexedEndpoint(t *testing.T) {
	table, identity, cache, updater := newTestTable(t)
	identity.Put(&model.Device{ID: 1, UniqueID: "imei-1"})
	identity.Put(&model.Device{ID: 2, UniqueID: "imei-2"})

	endpoint := model.Endpoint{Channel: "shared", RemoteAddr: "a"}
	_, err := table.Bind(context.Background(), "demo", endpoint, "imei-1")
	require.NoError(t, err)
	_, err = table.Bind(context.Background(), "demo", endpoint, "imei-2")
	require.NoError(t, err)

	table.Forget(context.Background(), 1)

	_, ok := table.LookupByDevice(1)
	assert.False(t, ok)
	remaining, ok := table.LookupByDevice(2)
	require.True(t, ok)
	assert.Equal(t, int64(2), remaining.DeviceID)

	assert.False(t, cache.IsHot(1))
	assert.True(t, cache.IsHot(2))
	assert.Equal(t, []model.Status{model.StatusUnknown}, updater.statusesFor(1))
}

func TestForgetOnUnknownDeviceIsNoOp(t *testing.T) {
	table, _, _, updater := newTestTable(t)
	table.Forget(context.Background(), 999)
	// UpdateStatus is still invoked unconditionally - forget's job is to
	// always attempt the UNKNOWN transition - but no session mutation
	// occurs since there was nothing bound.
	assert.Equal(t, []model.Status{model.StatusUnknown}, updater.statusesFor(999))
}

func TestBindRegistersUnknownUniqueIDWhenPolicyEnabled(t *testing.T) {
	identity := oracle.NewMemoryIdentityOracle(true)
	cache := oracle.NewMemoryCacheCoordinator()
	table := New(Options{Identity: identity, Cache: cache, RegisterUnknown: true})
	table.SetStatusUpdater(&fakeStatusUpdater{})

	s, err := table.Bind(context.Background(), "demo", model.Endpoint{Channel: "c", RemoteAddr: "a"}, "new-imei")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "new-imei", s.UniqueID)
}
