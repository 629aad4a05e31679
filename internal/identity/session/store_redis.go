package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	id "carelink/pkg/domain"
)

const sessionKeyPrefix = "sessions:user:"

// RedisStore tracks live session IDs per user. Keys carry the session TTL so
// abandoned sessions age out on their own; removal deletes the whole set.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save records a session ID for the user and refreshes the key TTL.
func (s *RedisStore) Save(ctx context.Context, userID id.UserID, sessionID id.SessionID, ttl time.Duration) error {
	key := sessionKeyPrefix + userID.String()
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, sessionID.String())
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteByUser drops every live session the user holds.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID id.UserID) error {
	return s.client.Del(ctx, sessionKeyPrefix+userID.String()).Err()
}
