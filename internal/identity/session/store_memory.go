package session

import (
	"context"
	"sync"
	"time"

	id "carelink/pkg/domain"
)

// MemoryStore is an in-memory session store for unit tests. TTLs are ignored;
// tests exercise presence and deletion, not expiry.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.UserID][]id.SessionID
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[id.UserID][]id.SessionID)}
}

// Save records a session ID for the user.
func (s *MemoryStore) Save(_ context.Context, userID id.UserID, sessionID id.SessionID, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = append(s.sessions[userID], sessionID)
	return nil
}

// DeleteByUser drops every live session the user holds.
func (s *MemoryStore) DeleteByUser(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// Sessions returns the live session IDs for a user (test helper).
func (s *MemoryStore) Sessions(userID id.UserID) []id.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]id.SessionID(nil), s.sessions[userID]...)
}
