package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"carelink/pkg/platform/sentinel"
)

// MemoryStore is an in-memory challenge store for unit tests and local
// development. Expiry is evaluated lazily against an injectable clock so
// tests control time deterministically.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore constructs an in-memory challenge store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) key(ns Namespace, key string) string {
	return fmt.Sprintf("%s:%s", ns, key)
}

// Put stores value under (ns, key) with the given TTL.
func (s *MemoryStore) Put(_ context.Context, ns Namespace, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal challenge entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.key(ns, key)] = memoryEntry{raw: raw, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get decodes the live entry under (ns, key) into out, or returns
// sentinel.ErrNotFound for absent or expired entries.
func (s *MemoryStore) Get(_ context.Context, ns Namespace, key string, out any) error {
	s.mu.RLock()
	entry, ok := s.entries[s.key(ns, key)]
	s.mu.RUnlock()
	if !ok || s.now().After(entry.expiresAt) {
		return sentinel.ErrNotFound
	}
	return json.Unmarshal(entry.raw, out)
}

// Delete removes the entry under (ns, key).
func (s *MemoryStore) Delete(_ context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, s.key(ns, key))
	return nil
}
