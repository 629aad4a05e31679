package tenant

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemoryStore is an in-memory tenant-settings store for unit tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]Settings
}

// NewMemoryStore creates an empty in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[id.TenantID]Settings)}
}

// Save seeds tenant settings.
func (s *MemoryStore) Save(set Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[set.ID] = set
}

// FindByID loads a tenant's settings.
func (s *MemoryStore) FindByID(_ context.Context, tenantID id.TenantID) (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.tenants[tenantID]
	if !ok {
		return Settings{}, sentinel.ErrNotFound
	}
	return set, nil
}
