package oracle

import (
	"context"
	"sync"

	"github.com/goph/emperror"

	"github.com/comcast/trackerd/internal/model"
)

// ErrDeviceNotFound is returned by MemoryIdentityOracle when neither ById
// nor ByUniqueId can resolve a record.
var ErrDeviceNotFound = emperror.With(errNotFound{}, "collaborator", "identity-oracle")

type errNotFound struct{}

func (errNotFound) Error() string { return "device not found" }

// MemoryIdentityOracle is a reference IdentityOracle backed by an in-process
// map, suitable for tests and for running the service without a real
// device-registry backend wired in.
type MemoryIdentityOracle struct {
	mu             sync.RWMutex
	byID           map[int64]*model.Device
	byUniqueID     map[string]*model.Device
	nextID         int64
	registerUnknown bool
}

// NewMemoryIdentityOracle constructs an empty oracle. registerUnknown mirrors
// the databaseRegisterUnknown configuration option: when true,
// AddUnknownDevice mints a new enabled device instead of returning an error.
func NewMemoryIdentityOracle(registerUnknown bool) *MemoryIdentityOracle {
	return &MemoryIdentityOracle{
		byID:            make(map[int64]*model.Device),
		byUniqueID:      make(map[string]*model.Device),
		registerUnknown: registerUnknown,
	}
}

// Put registers a device directly, bypassing auto-registration. Tests use
// this to seed known devices.
func (o *MemoryIdentityOracle) Put(d *model.Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byID[d.ID] = d
	o.byUniqueID[d.UniqueID] = d
	if d.ID >= o.nextID {
		o.nextID = d.ID + 1
	}
}

func (o *MemoryIdentityOracle) ByID(_ context.Context, deviceID int64) (*model.Device, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if d, ok := o.byID[deviceID]; ok {
		return d, nil
	}
	return nil, ErrDeviceNotFound
}

func (o *MemoryIdentityOracle) ByUniqueID(_ context.Context, uniqueID string) (*model.Device, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if d, ok := o.byUniqueID[uniqueID]; ok {
		return d, nil
	}
	return nil, ErrDeviceNotFound
}

func (o *MemoryIdentityOracle) AddUnknownDevice(_ context.Context, uniqueID string) (*model.Device, error) {
	if !o.registerUnknown {
		return nil, emperror.With(errNotFound{}, "uniqueId", uniqueID, "reason", "registration disabled")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if d, ok := o.byUniqueID[uniqueID]; ok {
		return d, nil
	}

	o.nextID++
	d := &model.Device{ID: o.nextID, UniqueID: uniqueID, Status: model.StatusUnknown}
	o.byID[d.ID] = d
	o.byUniqueID[d.UniqueID] = d
	return d, nil
}

// MemoryDeviceManager is a reference DeviceManager that persists status
// updates into the same Device records an IdentityOracle hands out, and
// serves per-device attribute lookups from a small overlay map.
type MemoryDeviceManager struct {
	mu         sync.Mutex
	attributes map[int64]map[string]interface{}
	positions  map[int64]*model.Position
}

// NewMemoryDeviceManager constructs an empty manager.
func NewMemoryDeviceManager() *MemoryDeviceManager {
	return &MemoryDeviceManager{
		attributes: make(map[int64]map[string]interface{}),
		positions:  make(map[int64]*model.Position),
	}
}

// SetLastPosition seeds the position GetDeviceState will return for
// deviceID. A real Device Manager would instead be updated by the
// persistence layer every time a position is stored.
func (m *MemoryDeviceManager) SetLastPosition(deviceID int64, p *model.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[deviceID] = p
}

func (m *MemoryDeviceManager) GetDeviceState(_ context.Context, deviceID int64) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[deviceID], nil
}

// SetAttribute seeds a per-device attribute used by LookupAttributeDouble/Boolean.
func (m *MemoryDeviceManager) SetAttribute(deviceID int64, key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attributes[deviceID] == nil {
		m.attributes[deviceID] = make(map[string]interface{})
	}
	m.attributes[deviceID][key] = value
}

func (m *MemoryDeviceManager) UpdateDeviceStatus(_ context.Context, device *model.Device) error {
	// A real implementation would write through to a database here; the
	// in-memory reference has nothing further to do since Device records
	// are shared pointers with the identity oracle's tables.
	_ = device
	return nil
}

func (m *MemoryDeviceManager) LookupAttributeDouble(deviceID int64, key string, def float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.attributes[deviceID][key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func (m *MemoryDeviceManager) LookupAttributeBoolean(deviceID int64, key string, def bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.attributes[deviceID][key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// MemoryPermissionsOracle is a reference PermissionsOracle backed by a
// static user<->device grant table.
type MemoryPermissionsOracle struct {
	mu     sync.RWMutex
	grants map[int64]map[int64]struct{} // deviceID -> set of userID
}

// NewMemoryPermissionsOracle constructs an empty oracle.
func NewMemoryPermissionsOracle() *MemoryPermissionsOracle {
	return &MemoryPermissionsOracle{grants: make(map[int64]map[int64]struct{})}
}

// Grant authorizes userID to see deviceID.
func (p *MemoryPermissionsOracle) Grant(userID, deviceID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grants[deviceID] == nil {
		p.grants[deviceID] = make(map[int64]struct{})
	}
	p.grants[deviceID][userID] = struct{}{}
}

func (p *MemoryPermissionsOracle) GetDeviceUsers(_ context.Context, deviceID int64) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]int64, 0, len(p.grants[deviceID]))
	for u := range p.grants[deviceID] {
		users = append(users, u)
	}
	return users, nil
}

func (p *MemoryPermissionsOracle) CheckDevice(_ context.Context, userID, deviceID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.grants[deviceID][userID]
	return ok
}

// MemoryCacheCoordinator is a reference CacheCoordinator that simply tracks
// the hot set, useful for asserting Add/Remove sequencing in tests.
type MemoryCacheCoordinator struct {
	mu  sync.Mutex
	hot map[int64]int
}

// NewMemoryCacheCoordinator constructs an empty coordinator.
func NewMemoryCacheCoordinator() *MemoryCacheCoordinator {
	return &MemoryCacheCoordinator{hot: make(map[int64]int)}
}

func (c *MemoryCacheCoordinator) AddDevice(deviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot[deviceID]++
}

func (c *MemoryCacheCoordinator) RemoveDevice(deviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hot[deviceID] <= 1 {
		delete(c.hot, deviceID)
		return
	}
	c.hot[deviceID]--
}

// IsHot reports whether deviceID currently has a live session according to
// this coordinator.
func (c *MemoryCacheCoordinator) IsHot(deviceID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.hot[deviceID]
	return ok
}

// MemoryNotificationSink is a reference NotificationSink that records every
// batch of events it receives, in order.
type MemoryNotificationSink struct {
	mu     sync.Mutex
	events []*model.Event
}

// NewMemoryNotificationSink constructs an empty sink.
func NewMemoryNotificationSink() *MemoryNotificationSink {
	return &MemoryNotificationSink{}
}

func (s *MemoryNotificationSink) UpdateEvents(_ context.Context, events map[*model.Event]*model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e := range events {
		s.events = append(s.events, e)
	}
	return nil
}

// Events returns a snapshot of every event recorded so far.
func (s *MemoryNotificationSink) Events() []*model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Event, len(s.events))
	copy(out, s.events)
	return out
}
