package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"carelink/pkg/platform/sentinel"
)

var challengeOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carelink_challenge_store_ops_total",
	Help: "Challenge store operations by namespace and result",
}, []string{"namespace", "op", "result"})

// RedisStore is the production challenge store. Values are JSON documents;
// TTL is set atomically at write time via SET EX.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed challenge store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(ns Namespace, key string) string {
	return fmt.Sprintf("%s:%s", ns, key)
}

// Put stores a JSON-encoded value under (ns, key) with the given TTL,
// replacing any existing entry.
func (s *RedisStore) Put(ctx context.Context, ns Namespace, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal challenge entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(ns, key), raw, ttl).Err(); err != nil {
		challengeOps.WithLabelValues(string(ns), "put", "error").Inc()
		return err
	}
	challengeOps.WithLabelValues(string(ns), "put", "ok").Inc()
	return nil
}

// Get decodes the entry under (ns, key) into out. Returns
// sentinel.ErrNotFound when the entry is absent or already expired.
func (s *RedisStore) Get(ctx context.Context, ns Namespace, key string, out any) error {
	raw, err := s.client.Get(ctx, redisKey(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		challengeOps.WithLabelValues(string(ns), "get", "miss").Inc()
		return sentinel.ErrNotFound
	}
	if err != nil {
		challengeOps.WithLabelValues(string(ns), "get", "error").Inc()
		return err
	}
	challengeOps.WithLabelValues(string(ns), "get", "ok").Inc()
	return json.Unmarshal(raw, out)
}

// Delete removes the entry under (ns, key). Deleting a missing entry is not
// an error; expiry may have beaten us to it.
func (s *RedisStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.Del(ctx, redisKey(ns, key)).Err(); err != nil {
		challengeOps.WithLabelValues(string(ns), "delete", "error").Inc()
		return err
	}
	challengeOps.WithLabelValues(string(ns), "delete", "ok").Inc()
	return nil
}
