package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore externalizes presence for multi-instance deployments. The key TTL
// doubles as the heartbeat timeout, so stale entries expire without a sweeper.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

func (s *RedisStore) MarkOnline(ctx context.Context, userID uint) error {
	if err := s.client.Set(ctx, presenceKey(userID), time.Now().Unix(), Timeout).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkOffline(ctx context.Context, userID uint) error {
	if err := s.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, userID uint) error {
	return s.MarkOnline(ctx, userID)
}

func (s *RedisStore) IsOnline(ctx context.Context, userID uint) (bool, error) {
	n, err := s.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

// Sweep is a no-op: Redis expires presence keys via TTL.
func (s *RedisStore) Sweep(ctx context.Context) error {
	return nil
}
