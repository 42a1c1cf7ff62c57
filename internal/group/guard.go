// Package group implements the group hierarchy integrity check: rejecting
// any insert or update that would introduce a cycle in the device-grouping
// forest, plus a lazily-loaded in-memory view of the full group set.
package group

import (
	"errors"
	"fmt"
	"sync"

	"github.com/comcast/trackerd/internal/model"
)

// ErrCycle is returned (wrapped with the offending group id) when a write
// would introduce a cycle in the group hierarchy.
var ErrCycle = errors.New("cycle in group hierarchy")

// Store is the persistence collaborator the guard reads from and writes
// through. GetByID must return (nil, false) for an unknown id, matching the
// "walk terminates when a parent resolves to null or an unknown id" rule.
type Store interface {
	GetByID(id int64) (*model.Group, bool)
	GetAll() ([]*model.Group, error)
	Save(group *model.Group) error
}

// Guard wraps a Store with a cycle check on every write, plus an in-memory
// mirror of the full group set that is kept current on every successful
// Save and lazily bootstrapped from the store once at cold start.
type Guard struct {
	store Store

	mu        sync.Mutex
	items     map[int64]*model.Group
	bootstrapped bool
}

// New constructs a Guard over store. The in-memory mirror starts empty and
// is populated on the first GetAll/Save call that finds it so.
func New(store Store) *Guard {
	return &Guard{store: store, items: make(map[int64]*model.Group)}
}

// Save validates that group's parent chain is acyclic before writing it
// through to the store. The walk seeds the visited set with the candidate's
// own id, so a group naming itself as its own ancestor - directly or
// transitively - is rejected. Persistence occurs only if the check passes;
// a successful write also updates the in-memory mirror directly, so GetAll
// observes it without a storage round trip.
func (g *Guard) Save(candidate *model.Group) error {
	g.mu.Lock()
	g.bootstrapOnceLocked()
	g.mu.Unlock()

	if err := g.checkAcyclicLocked(candidate); err != nil {
		return err
	}

	if err := g.store.Save(candidate); err != nil {
		return err
	}

	g.mu.Lock()
	g.items[candidate.ID] = candidate
	g.mu.Unlock()
	return nil
}

// checkAcyclicLocked walks candidate's parent chain, preferring the
// in-memory mirror (kept current by Save) and falling back to the store for
// any id the mirror doesn't yet know about.
func (g *Guard) checkAcyclicLocked(candidate *model.Group) error {
	visited := map[int64]struct{}{candidate.ID: {}}

	parentID := candidate.ParentID
	for parentID != nil {
		if _, seen := visited[*parentID]; seen {
			return fmt.Errorf("%w: group %d", ErrCycle, candidate.ID)
		}
		visited[*parentID] = struct{}{}

		parent, ok := g.getByIDLocked(*parentID)
		if !ok || parent == nil {
			break
		}
		parentID = parent.ParentID
	}
	return nil
}

func (g *Guard) getByIDLocked(id int64) (*model.Group, bool) {
	g.mu.Lock()
	parent, ok := g.items[id]
	g.mu.Unlock()
	if ok {
		return parent, true
	}
	return g.store.GetByID(id)
}

// bootstrapOnceLocked performs the cold-start refresh described by the
// design note: the very first time the mirror is found empty, load
// everything the store has. Callers must hold g.mu.
func (g *Guard) bootstrapOnceLocked() {
	if g.bootstrapped || len(g.items) > 0 {
		return
	}
	all, err := g.store.GetAll()
	if err != nil {
		return
	}
	for _, item := range all {
		g.items[item.ID] = item
	}
	g.bootstrapped = true
}

// GetAll returns every known group. On the very first call, an empty mirror
// is ambiguous (cold cache vs. genuinely empty store) so it triggers one
// refresh from the store and returns the post-refresh set. Every subsequent
// empty result is trusted as genuine and is not re-refreshed.
func (g *Guard) GetAll() ([]*model.Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.bootstrapOnceLocked()

	all := make([]*model.Group, 0, len(g.items))
	for _, item := range g.items {
		all = append(all, item)
	}
	return all, nil
}
