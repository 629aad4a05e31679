package user

import (
	"context"
	"sync"

	"carelink/internal/identity/models"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemoryStore is an in-memory user store for unit tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[id.UserID]models.User
}

// NewMemoryStore creates an empty in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[id.UserID]models.User)}
}

// FindByID loads one user record.
func (s *MemoryStore) FindByID(_ context.Context, userID id.UserID) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, sentinel.ErrNotFound
	}
	return u, nil
}

// FindByIDs batch-loads user records; missing IDs are absent from the map.
func (s *MemoryStore) FindByIDs(_ context.Context, userIDs []id.UserID) (map[id.UserID]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.UserID]models.User, len(userIDs))
	for _, uid := range userIDs {
		if u, ok := s.users[uid]; ok {
			out[uid] = u
		}
	}
	return out, nil
}

// Save upserts the user record.
func (s *MemoryStore) Save(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}
