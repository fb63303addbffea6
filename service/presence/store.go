package presence

import (
	"context"
	"sync"
	"time"
)

// Timeout is how long a participant may stay silent before being considered
// offline. Heartbeats and any inbound websocket frame reset the clock.
const Timeout = 45 * time.Second

// Store tracks which participants currently have a live realtime connection.
// Records are ephemeral; nothing here survives process (or key TTL) lifetime.
type Store interface {
	MarkOnline(ctx context.Context, userID uint) error
	MarkOffline(ctx context.Context, userID uint) error
	Heartbeat(ctx context.Context, userID uint) error
	IsOnline(ctx context.Context, userID uint) (bool, error)
	// Sweep expires entries whose last heartbeat is older than Timeout.
	Sweep(ctx context.Context) error
}

// MemoryStore is the single-instance implementation: a map of user id to
// last-seen time guarded by a RWMutex so IsOnline never blocks on writers.
type MemoryStore struct {
	mu       sync.RWMutex
	lastSeen map[uint]time.Time

	now func() time.Time // overridable in tests
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lastSeen: make(map[uint]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) MarkOnline(ctx context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = s.now()
	return nil
}

func (s *MemoryStore) MarkOffline(ctx context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastSeen, userID)
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, userID uint) error {
	return s.MarkOnline(ctx, userID)
}

func (s *MemoryStore) IsOnline(ctx context.Context, userID uint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen, ok := s.lastSeen[userID]
	if !ok {
		return false, nil
	}
	return s.now().Sub(seen) <= Timeout, nil
}

func (s *MemoryStore) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-Timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seen := range s.lastSeen {
		if seen.Before(cutoff) {
			delete(s.lastSeen, id)
		}
	}
	return nil
}
