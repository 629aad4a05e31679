package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

const (
	profileKeyPrefix = "profile:user:"
	profileTTL       = 15 * time.Minute
)

// RedisCache is the production projection cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a Redis-backed projection cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set stores a projection with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, p Projection) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, profileKeyPrefix+p.UserID.String(), raw, profileTTL).Err()
}

// Get loads a cached projection, or sentinel.ErrNotFound on a miss.
func (c *RedisCache) Get(ctx context.Context, userID id.UserID) (Projection, error) {
	raw, err := c.client.Get(ctx, profileKeyPrefix+userID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Projection{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Projection{}, err
	}
	var p Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return Projection{}, err
	}
	return p, nil
}

// Delete drops the cached projection.
func (c *RedisCache) Delete(ctx context.Context, userID id.UserID) error {
	return c.client.Del(ctx, profileKeyPrefix+userID.String()).Err()
}
