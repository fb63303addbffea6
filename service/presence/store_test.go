package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	online, err := store.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, store.MarkOnline(ctx, 7))
	online, err = store.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, store.MarkOffline(ctx, 7))
	online, err = store.IsOnline(ctx, 7)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestHeartbeatKeepsParticipantOnline(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Date(2025, 2, 10, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.MarkOnline(ctx, 3))

	// 40s of silence is still within the timeout
	now = now.Add(40 * time.Second)
	online, err := store.IsOnline(ctx, 3)
	require.NoError(t, err)
	assert.True(t, online)

	// a heartbeat resets the clock
	require.NoError(t, store.Heartbeat(ctx, 3))
	now = now.Add(40 * time.Second)
	online, err = store.IsOnline(ctx, 3)
	require.NoError(t, err)
	assert.True(t, online)

	// silence past the timeout goes offline
	now = now.Add(Timeout)
	online, err = store.IsOnline(ctx, 3)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Date(2025, 2, 10, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.MarkOnline(ctx, 1))
	now = now.Add(30 * time.Second)
	require.NoError(t, store.MarkOnline(ctx, 2))

	now = now.Add(20 * time.Second)
	require.NoError(t, store.Sweep(ctx))

	assert.NotContains(t, store.lastSeen, uint(1))
	assert.Contains(t, store.lastSeen, uint(2))
}
