package chat

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

type levelKey struct {
	user    id.UserID
	patient id.PatientID
}

// MemoryLevelStore is an in-memory notification-level store for unit tests.
type MemoryLevelStore struct {
	mu     sync.RWMutex
	levels map[levelKey]id.NotificationLevel
}

// NewMemoryLevelStore creates an empty in-memory level store.
func NewMemoryLevelStore() *MemoryLevelStore {
	return &MemoryLevelStore{levels: make(map[levelKey]id.NotificationLevel)}
}

// Get returns the stored level, or sentinel.ErrNotFound if unset.
func (s *MemoryLevelStore) Get(_ context.Context, userID id.UserID, patientID id.PatientID) (id.NotificationLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.levels[levelKey{user: userID, patient: patientID}]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return level, nil
}

// Set upserts the stored level.
func (s *MemoryLevelStore) Set(_ context.Context, userID id.UserID, patientID id.PatientID, level id.NotificationLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[levelKey{user: userID, patient: patientID}] = level
	return nil
}
