package device

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemoryStore is an in-memory device store for unit tests.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[id.UserID]Device
}

// NewMemoryStore creates an empty in-memory device store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[id.UserID]Device)}
}

// Save seeds a device registration.
func (s *MemoryStore) Save(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.UserID] = d
}

// FindByUser returns the user's registered device.
func (s *MemoryStore) FindByUser(_ context.Context, userID id.UserID) (Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[userID]
	if !ok {
		return Device{}, sentinel.ErrNotFound
	}
	return d, nil
}
