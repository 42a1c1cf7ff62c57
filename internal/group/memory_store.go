package group

import (
	"sync"

	"github.com/comcast/trackerd/internal/model"
)

// MemoryStore is a reference Store backed by an in-process map, used by
// tests and by any deployment that hasn't wired a real persistence layer.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[int64]*model.Group
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[int64]*model.Group)}
}

func (s *MemoryStore) GetByID(id int64) (*model.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}

func (s *MemoryStore) GetAll() ([]*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*model.Group, 0, len(s.groups))
	for _, g := range s.groups {
		all = append(all, g)
	}
	return all, nil
}

func (s *MemoryStore) Save(group *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = group
	return nil
}
