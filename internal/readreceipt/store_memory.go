package readreceipt

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemorySubscriptionStore is an in-memory subscription store for unit tests.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[id.UserID]string
}

// NewMemorySubscriptionStore creates an empty in-memory subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[id.UserID]string)}
}

// Get returns the stored subscription ID, or sentinel.ErrNotFound.
func (s *MemorySubscriptionStore) Get(_ context.Context, userID id.UserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subID, ok := s.subs[userID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return subID, nil
}

// Set stores the subscription ID.
func (s *MemorySubscriptionStore) Set(_ context.Context, userID id.UserID, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[userID] = subscriptionID
	return nil
}

// Delete removes the subscription ID.
func (s *MemorySubscriptionStore) Delete(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, userID)
	return nil
}
