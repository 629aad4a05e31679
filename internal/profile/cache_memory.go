package profile

import (
	"context"
	"sync"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// MemoryCache is an in-memory projection cache for unit tests.
type MemoryCache struct {
	mu       sync.RWMutex
	profiles map[id.UserID]Projection
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{profiles: make(map[id.UserID]Projection)}
}

// Set stores a projection.
func (c *MemoryCache) Set(_ context.Context, p Projection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.UserID] = p
	return nil
}

// Get loads a cached projection, or sentinel.ErrNotFound on a miss.
func (c *MemoryCache) Get(_ context.Context, userID id.UserID) (Projection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	if !ok {
		return Projection{}, sentinel.ErrNotFound
	}
	return p, nil
}

// Delete drops the cached projection.
func (c *MemoryCache) Delete(_ context.Context, userID id.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, userID)
	return nil
}
