// Package session implements the dual-indexed session table: the registry
// of live device<->endpoint bindings that every inbound protocol worker and
// the endpoint disconnect path mutate concurrently.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

// StatusUpdater is the slice of the status state machine the session table
// needs: a way to drive a device's status transition. It is satisfied by
// *status.Machine; the indirection exists so session and status can be
// built independently and wired together afterwards (see core.Manager),
// instead of reaching for a process-wide registry the way the source did.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, deviceID int64, newStatus model.Status, observedAt *time.Time)
}

// Table is the dual-indexed session table. The zero value is not ready
// for use; construct with New.
type Table struct {
	logger   log.Logger
	identity oracle.IdentityOracle
	cache    oracle.CacheCoordinator
	registerUnknown bool

	mu         sync.Mutex
	byDevice   map[int64]*model.DeviceSession
	byEndpoint map[model.Endpoint]map[string]*model.DeviceSession

	status StatusUpdater
}

// Options configures a Table.
type Options struct {
	Logger          log.Logger
	Identity        oracle.IdentityOracle
	Cache           oracle.CacheCoordinator
	RegisterUnknown bool
}

// New constructs an empty session table. Call SetStatusUpdater before the
// first Disconnect/Forget call; the manager wiring in internal/core does
// this immediately after construction.
func New(o Options) *Table {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Table{
		logger:          logger,
		identity:        o.Identity,
		cache:           o.Cache,
		registerUnknown: o.RegisterUnknown,
		byDevice:        make(map[int64]*model.DeviceSession),
		byEndpoint:      make(map[model.Endpoint]map[string]*model.DeviceSession),
	}
}

// SetStatusUpdater wires the status state machine this table reports
// OFFLINE/UNKNOWN transitions to. It must be called exactly once, before
// any mutating method runs.
func (t *Table) SetStatusUpdater(s StatusUpdater) {
	t.status = s
}

// LookupByDevice returns the live session for a device id, if any.
func (t *Table) LookupByDevice(deviceID int64) (*model.DeviceSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byDevice[deviceID]
	return s, ok
}

// Bind resolves a device session from a protocol-layer announcement.
// uniqueIDs is an ordered list of candidate identifiers, most-preferred
// first, and may be empty when the caller expects the endpoint to already
// carry exactly one device.
func (t *Table) Bind(ctx context.Context, protocol string, endpoint model.Endpoint, uniqueIDs ...string) (*model.DeviceSession, error) {
	if existing, ok := t.probeExisting(endpoint, uniqueIDs); ok {
		return existing, nil
	}

	device := t.resolveDevice(ctx, uniqueIDs)
	if device == nil {
		level.Warn(t.logger).Log("msg", "unknown device", "uniqueIds", uniqueIDs, "remoteAddr", endpoint.RemoteAddr)
		return nil, nil
	}
	if device.Disabled {
		level.Warn(t.logger).Log("msg", "disabled device", "deviceId", device.ID, "remoteAddr", endpoint.RemoteAddr)
		return nil, nil
	}

	session := &model.DeviceSession{
		DeviceID: device.ID,
		UniqueID: device.UniqueID,
		Protocol: protocol,
		Endpoint: endpoint,
		Created:  time.Now(),
	}

	t.mu.Lock()
	_, hadPrior := t.byDevice[device.ID]
	t.evictLocked(device.ID)
	t.insertLocked(session)
	t.mu.Unlock()

	if t.cache != nil {
		if hadPrior {
			t.cache.RemoveDevice(device.ID)
		}
		t.cache.AddDevice(device.ID)
	}

	return session, nil
}

// probeExisting implements steps 1-2 of Bind: if the endpoint already has a
// session for one of the candidate unique ids, or (with no candidates) any
// session at all, return it unchanged.
func (t *Table) probeExisting(endpoint model.Endpoint, uniqueIDs []string) (*model.DeviceSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	submap, ok := t.byEndpoint[endpoint]
	if !ok {
		return nil, false
	}

	if len(uniqueIDs) == 0 {
		// Arbitrary choice: Go map iteration order is already
		// non-deterministic, which is exactly the "any" semantics Bind
		// documents for multiplexed endpoints with a single device.
		for _, s := range submap {
			return s, true
		}
		return nil, false
	}

	for _, id := range uniqueIDs {
		if s, ok := submap[id]; ok {
			return s, true
		}
	}
	return nil, false
}

// resolveDevice implements step 3 of Bind: resolve the first matching
// unique id through the Identity Oracle, auto-registering the first
// candidate if nothing resolves and registration is enabled. Oracle errors
// are caught, logged as a find-device error, and treated as absent rather
// than propagated.
func (t *Table) resolveDevice(ctx context.Context, uniqueIDs []string) *model.Device {
	for _, id := range uniqueIDs {
		device, err := t.identity.ByUniqueID(ctx, id)
		if err != nil {
			level.Warn(t.logger).Log("msg", "find device error", "uniqueId", id, "err", err)
			continue
		}
		if device != nil {
			return device
		}
	}

	if len(uniqueIDs) == 0 || !t.registerUnknown {
		return nil
	}

	device, err := t.identity.AddUnknownDevice(ctx, uniqueIDs[0])
	if err != nil {
		level.Warn(t.logger).Log("msg", "find device error", "uniqueId", uniqueIDs[0], "err", err)
		return nil
	}
	return device
}

// evictLocked removes any prior session for deviceID from both indexes.
// Callers must hold t.mu.
func (t *Table) evictLocked(deviceID int64) {
	prior, ok := t.byDevice[deviceID]
	if !ok {
		return
	}
	delete(t.byDevice, deviceID)
	t.removeFromEndpointLocked(prior)
}

// insertLocked adds session to both indexes. Callers must hold t.mu.
func (t *Table) insertLocked(s *model.DeviceSession) {
	t.byDevice[s.DeviceID] = s

	submap, ok := t.byEndpoint[s.Endpoint]
	if !ok {
		submap = make(map[string]*model.DeviceSession)
		t.byEndpoint[s.Endpoint] = submap
	}
	submap[s.UniqueID] = s
}

// removeFromEndpointLocked drops s from its endpoint submap, removing the
// endpoint key entirely if that empties the submap. Callers must hold t.mu.
func (t *Table) removeFromEndpointLocked(s *model.DeviceSession) {
	submap, ok := t.byEndpoint[s.Endpoint]
	if !ok {
		return
	}
	delete(submap, s.UniqueID)
	if len(submap) == 0 {
		delete(t.byEndpoint, s.Endpoint)
	}
}

// Disconnect fires on transport close. It is the sole route that evicts
// multiple sessions atomically by endpoint, and is idempotent: a second
// call for an endpoint with no sessions is a no-op.
func (t *Table) Disconnect(ctx context.Context, endpoint model.Endpoint) {
	t.mu.Lock()
	submap, ok := t.byEndpoint[endpoint]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.byEndpoint, endpoint)

	evicted := make([]*model.DeviceSession, 0, len(submap))
	for _, s := range submap {
		evicted = append(evicted, s)
		delete(t.byDevice, s.DeviceID)
	}
	t.mu.Unlock()

	for _, s := range evicted {
		if t.status != nil {
			t.status.UpdateStatus(ctx, s.DeviceID, model.StatusOffline, nil)
		}
		if t.cache != nil {
			t.cache.RemoveDevice(s.DeviceID)
		}
	}
}

// Forget transitions a device to UNKNOWN and surgically removes it from the
// session table: the by-device-id entry and the matching uniqueId entry in
// its endpoint's submap, leaving any other devices multiplexed on that
// endpoint untouched. It is the effect the online-decay timeout fires. The
// UNKNOWN transition is requested unconditionally; for a device with no live
// session (already forgotten, or an endpoint whose submap is absent) the
// session table and the Cache Coordinator are left untouched.
func (t *Table) Forget(ctx context.Context, deviceID int64) {
	if t.status != nil {
		t.status.UpdateStatus(ctx, deviceID, model.StatusUnknown, nil)
	}

	t.mu.Lock()
	session, ok := t.byDevice[deviceID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.byDevice, deviceID)
	t.removeFromEndpointLocked(session)
	t.mu.Unlock()

	if t.cache != nil {
		t.cache.RemoveDevice(deviceID)
	}
}
