// Package subscribe implements the listener registry and update fan-out: a
// per-user set of UpdateListener callbacks, pushed to from pushDevice,
// pushPosition, pushEvent and broadcastKeepalive.
package subscribe

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/comcast/trackerd/internal/model"
	"github.com/comcast/trackerd/internal/oracle"
)

// UpdateListener is the four-callback contract a subscribed user session
// implements. The registry holds these values directly - Go has no native
// weak reference - so a caller that stops needing updates must call
// RemoveListener itself; a leaked registration is a caller bug, not
// something this package can detect.
//
// Callbacks run synchronously while the registry's lock is held for
// reading: they must not block indefinitely, and must not call
// AddListener/RemoveListener on this registry re-entrantly (that would
// attempt to upgrade a read hold and deadlock). A listener needing to
// unsubscribe itself from inside a callback must defer that to another
// goroutine.
type UpdateListener interface {
	OnKeepalive()
	OnUpdateDevice(device *model.Device)
	OnUpdatePosition(position *model.Position)
	OnUpdateEvent(event *model.Event)
}

// Registry is the subscription registry: a per-user set of listener
// callbacks with permission-filtered fan-out.
type Registry struct {
	logger      log.Logger
	permissions oracle.PermissionsOracle

	mu        sync.RWMutex
	listeners map[int64]map[UpdateListener]struct{}
}

// New constructs an empty Registry.
func New(logger log.Logger, permissions oracle.PermissionsOracle) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		logger:      logger,
		permissions: permissions,
		listeners:   make(map[int64]map[UpdateListener]struct{}),
	}
}

// AddListener registers listener under userID. Idempotent: adding the same
// listener twice for the same user leaves it registered once.
func (r *Registry) AddListener(userID int64, listener UpdateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[userID]
	if !ok {
		set = make(map[UpdateListener]struct{})
		r.listeners[userID] = set
	}
	set[listener] = struct{}{}
}

// RemoveListener deregisters listener from userID. A user with no
// registered listeners is left untouched rather than given an empty set.
func (r *Registry) RemoveListener(userID int64, listener UpdateListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[userID]
	if !ok {
		return
	}
	delete(set, listener)
	if len(set) == 0 {
		delete(r.listeners, userID)
	}
}

// invoke calls fn, isolating any panic so one broken listener cannot stop
// delivery to the rest. Go has no catchable checked exceptions, so a panic
// is the closest analogue to the source's try/catch around each callback.
func (r *Registry) invoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			level.Error(r.logger).Log("msg", "listener callback panicked", "recovered", rec)
		}
	}()
	fn()
}

// BroadcastKeepalive invokes OnKeepalive on every registered listener
// across all users. Ordering across users, and across listeners within a
// user, is unspecified.
func (r *Registry) BroadcastKeepalive() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.listeners {
		for listener := range set {
			l := listener
			r.invoke(l.OnKeepalive)
		}
	}
}

// PushDevice consults the Permissions Oracle for the users authorized to
// see device, and invokes OnUpdateDevice on every listener registered to
// each such user.
func (r *Registry) PushDevice(ctx context.Context, device *model.Device) {
	r.pushToAuthorized(ctx, device.ID, func(l UpdateListener) {
		r.invoke(func() { l.OnUpdateDevice(device) })
	})
}

// PushPosition consults the Permissions Oracle for the users authorized to
// see position.DeviceID, and invokes OnUpdatePosition on every listener
// registered to each such user.
func (r *Registry) PushPosition(ctx context.Context, position *model.Position) {
	r.pushToAuthorized(ctx, position.DeviceID, func(l UpdateListener) {
		r.invoke(func() { l.OnUpdatePosition(position) })
	})
}

// PushEvent delivers event directly to userID's listeners. Unlike
// PushDevice/PushPosition, no permission check is consulted: the caller has
// already decided which user this event belongs to.
func (r *Registry) PushEvent(userID int64, event *model.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for listener := range r.listeners[userID] {
		l := listener
		r.invoke(func() { l.OnUpdateEvent(event) })
	}
}

func (r *Registry) pushToAuthorized(ctx context.Context, deviceID int64, deliver func(UpdateListener)) {
	var userIDs []int64
	if r.permissions != nil {
		var err error
		userIDs, err = r.permissions.GetDeviceUsers(ctx, deviceID)
		if err != nil {
			level.Warn(r.logger).Log("msg", "lookup device users failed", "deviceId", deviceID, "err", err)
			return
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, userID := range userIDs {
		for listener := range r.listeners[userID] {
			deliver(listener)
		}
	}
}
