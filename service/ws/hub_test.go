package ws

import (
	"sync"
	"testing"

	"github.com/mindhaven/mindhaven-server/service/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, userID uint) *Client {
	return &Client{
		UserID: userID,
		Send:   make(chan []byte, 1),
		hub:    hub,
	}
}

func TestBroadcastToUserDelivers(t *testing.T) {
	hub := NewHub(nil, presence.NewMemoryStore())
	client := newTestClient(hub, 7)
	hub.register(client)

	assert.True(t, hub.BroadcastToUser(7, []byte(`{"type":"notification"}`)))
	assert.Equal(t, []byte(`{"type":"notification"}`), <-client.Send)

	// no connection for this user
	assert.False(t, hub.BroadcastToUser(8, []byte("x")))
}

func TestBroadcastDuringUnregister(t *testing.T) {
	hub := NewHub(nil, presence.NewMemoryStore())
	userID := uint(7)

	clients := make([]*Client, 64)
	for i := range clients {
		clients[i] = newTestClient(hub, userID)
		hub.register(clients[i])
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					hub.BroadcastToUser(userID, []byte(`{"type":"notification"}`))
				}
			}
		}()
	}

	for _, c := range clients {
		hub.unregister(c)
	}
	close(done)
	wg.Wait()

	hub.mu.RLock()
	_, present := hub.clients[userID]
	hub.mu.RUnlock()
	assert.False(t, present)
	assert.False(t, hub.BroadcastToUser(userID, []byte("x")))
}

func TestUnregisterTwiceIsNoOp(t *testing.T) {
	hub := NewHub(nil, presence.NewMemoryStore())
	first := newTestClient(hub, 7)
	second := newTestClient(hub, 7)
	hub.register(first)
	hub.register(second)

	hub.unregister(first)
	hub.unregister(first)

	// the sibling connection still receives broadcasts
	require.True(t, hub.BroadcastToUser(7, []byte("hello")))
	assert.Equal(t, []byte("hello"), <-second.Send)
}
