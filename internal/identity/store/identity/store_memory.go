package identity

import (
	"context"
	"sync"
	"time"

	"carelink/internal/identity/models"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemoryStore is an in-memory identity store for unit tests.
type MemoryStore struct {
	mu         sync.RWMutex
	identities map[id.UserID]models.FamilyIdentity
}

// NewMemoryStore creates an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identities: make(map[id.UserID]models.FamilyIdentity)}
}

// FindByUser returns the identity row for a user regardless of state.
func (s *MemoryStore) FindByUser(_ context.Context, userID id.UserID) (models.FamilyIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[userID]
	if !ok {
		return models.FamilyIdentity{}, sentinel.ErrNotFound
	}
	return ident, nil
}

// ActiveRoster returns all active identities for a patient in insertion-time
// order.
func (s *MemoryStore) ActiveRoster(_ context.Context, patientID id.PatientID) ([]models.FamilyIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roster []models.FamilyIdentity
	for _, ident := range s.identities {
		if ident.PatientID == patientID && ident.State == models.StateActive {
			roster = append(roster, ident)
		}
	}
	sortByCreatedAt(roster)
	return roster, nil
}

// CountActive returns the active roster size for a patient.
func (s *MemoryStore) CountActive(ctx context.Context, patientID id.PatientID) (int, error) {
	roster, err := s.ActiveRoster(ctx, patientID)
	return len(roster), err
}

// HasActiveSelfPatient reports whether another active identity claims
// Self/Patient for the patient.
func (s *MemoryStore) HasActiveSelfPatient(_ context.Context, patientID id.PatientID, excludeUser id.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identities {
		if ident.PatientID == patientID &&
			ident.State == models.StateActive &&
			ident.PatientRelationship == models.RelationshipSelfPatient &&
			ident.UserID != excludeUser {
			return true, nil
		}
	}
	return false, nil
}

// Save upserts the identity row.
func (s *MemoryStore) Save(_ context.Context, ident models.FamilyIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[ident.UserID] = ident
	return nil
}

// SoftRemove transitions an active identity to Removed.
func (s *MemoryStore) SoftRemove(_ context.Context, userID id.UserID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.identities[userID]
	if !ok || ident.State != models.StateActive {
		return sentinel.ErrNotFound
	}
	ident.State = models.StateRemoved
	s.identities[userID] = ident
	return nil
}

func sortByCreatedAt(roster []models.FamilyIdentity) {
	for i := 1; i < len(roster); i++ {
		for j := i; j > 0 && roster[j].CreatedAt.Before(roster[j-1].CreatedAt); j-- {
			roster[j], roster[j-1] = roster[j-1], roster[j]
		}
	}
}
