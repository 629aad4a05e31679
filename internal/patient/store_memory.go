package patient

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemoryStore is an in-memory patient store for unit tests. Seed helpers
// (Save, Link, SetOpenEncounter) stand in for the patient service that owns
// these rows in production.
type MemoryStore struct {
	mu             sync.RWMutex
	patients       map[id.PatientID]Patient
	links          map[id.PatientID][]id.UserID
	openEncounters map[id.PatientID]bool
}

// NewMemoryStore creates an empty in-memory patient store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:       make(map[id.PatientID]Patient),
		links:          make(map[id.PatientID][]id.UserID),
		openEncounters: make(map[id.PatientID]bool),
	}
}

// Save seeds or replaces a patient row.
func (s *MemoryStore) Save(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

// Link maps a user to a patient.
func (s *MemoryStore) Link(patientID id.PatientID, userID id.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[patientID] = append(s.links[patientID], userID)
}

// Unlink removes a user-patient mapping.
func (s *MemoryStore) Unlink(patientID id.PatientID, userID id.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	linked := s.links[patientID]
	for i, uid := range linked {
		if uid == userID {
			s.links[patientID] = append(linked[:i], linked[i+1:]...)
			return
		}
	}
}

// SetOpenEncounter toggles the open-encounter gate for a patient.
func (s *MemoryStore) SetOpenEncounter(patientID id.PatientID, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openEncounters[patientID] = open
}

// FindByID loads the patient projection.
func (s *MemoryStore) FindByID(_ context.Context, patientID id.PatientID) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[patientID]
	if !ok {
		return Patient{}, sentinel.ErrNotFound
	}
	return p, nil
}

// ClaimChannel binds channelID only if the patient has none, mirroring the
// compare-and-swap semantics of the relational store.
func (s *MemoryStore) ClaimChannel(_ context.Context, patientID id.PatientID, channelID id.ChannelID) (id.ChannelID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok {
		return "", false, sentinel.ErrNotFound
	}
	if p.ChannelID != "" {
		return p.ChannelID, false, nil
	}
	p.ChannelID = channelID
	s.patients[patientID] = p
	return channelID, true, nil
}

// LinkedUserIDs returns every user mapped to the patient.
func (s *MemoryStore) LinkedUserIDs(_ context.Context, patientID id.PatientID) ([]id.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]id.UserID(nil), s.links[patientID]...), nil
}

// LinkedPatients returns every patient mapped to the user.
func (s *MemoryStore) LinkedPatients(_ context.Context, userID id.UserID) ([]id.PatientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var patients []id.PatientID
	for pid, users := range s.links {
		for _, uid := range users {
			if uid == userID {
				patients = append(patients, pid)
				break
			}
		}
	}
	return patients, nil
}

// HasOpenEncounter reports whether the patient has an open encounter.
func (s *MemoryStore) HasOpenEncounter(_ context.Context, patientID id.PatientID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openEncounters[patientID], nil
}
