package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore deduplicates one-shot notifications. MarkSeen reports true the
// first time a key is recorded and false on every repeat.
type SeenStore interface {
	MarkSeen(ctx context.Context, key string) (bool, error)
}

// MemorySeen keeps the seen-set for the lifetime of the process.
type MemorySeen struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySeen() *MemorySeen {
	return &MemorySeen{seen: make(map[string]struct{})}
}

func (s *MemorySeen) MarkSeen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

// seenTTL bounds redis seen-set entries; a day comfortably outlives any
// appointment's notification horizon.
const seenTTL = 24 * time.Hour

// RedisSeen shares the seen-set across server instances via SETNX.
type RedisSeen struct {
	client *redis.Client
}

func NewRedisSeen(client *redis.Client) *RedisSeen {
	return &RedisSeen{client: client}
}

func (s *RedisSeen) MarkSeen(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, "notified:"+key, 1, seenTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	return ok, nil
}
