package readreceipt

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"

	"carelink/internal/platform/redis"
	id "carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

var watchOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carelink_readreceipt_watch_ops_total",
	Help: "Read-receipt watch store operations by type and result.",
}, []string{"op", "result"})

// RedisSubscriptionStore keeps the external watch subscription ID per user.
// Entries have no TTL; they are replaced on re-subscribe and deleted on
// unsubscribe.
type RedisSubscriptionStore struct {
	client *redis.Client
}

// NewRedisSubscriptionStore creates a redis-backed subscription store.
func NewRedisSubscriptionStore(client *redis.Client) *RedisSubscriptionStore {
	return &RedisSubscriptionStore{client: client}
}

func watchKey(userID id.UserID) string {
	return fmt.Sprintf("readreceipts:watch:%s", userID)
}

// Get returns the user's current watch subscription ID, or
// sentinel.ErrNotFound.
func (s *RedisSubscriptionStore) Get(ctx context.Context, userID id.UserID) (string, error) {
	subID, err := s.client.Get(ctx, watchKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		watchOps.WithLabelValues("get", "miss").Inc()
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		watchOps.WithLabelValues("get", "error").Inc()
		return "", fmt.Errorf("get watch subscription: %w", err)
	}
	watchOps.WithLabelValues("get", "hit").Inc()
	return subID, nil
}

// Set stores the user's watch subscription ID.
func (s *RedisSubscriptionStore) Set(ctx context.Context, userID id.UserID, subscriptionID string) error {
	if err := s.client.Set(ctx, watchKey(userID), subscriptionID, 0).Err(); err != nil {
		watchOps.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("set watch subscription: %w", err)
	}
	watchOps.WithLabelValues("set", "ok").Inc()
	return nil
}

// Delete removes the user's watch subscription ID.
func (s *RedisSubscriptionStore) Delete(ctx context.Context, userID id.UserID) error {
	if err := s.client.Del(ctx, watchKey(userID)).Err(); err != nil {
		watchOps.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("delete watch subscription: %w", err)
	}
	watchOps.WithLabelValues("delete", "ok").Inc()
	return nil
}
