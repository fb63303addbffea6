package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/service/presence"
	"github.com/mindhaven/mindhaven-server/service/session"
	"gorm.io/gorm"
)

// Message types carried over the websocket, both directions.
const (
	TypeChat         = "chat"
	TypeSignaling    = "signaling"
	TypeHeartbeat    = "heartbeat"
	TypeNotification = "notification"
)

// A connection silent past pongWait is dropped, so the read deadline and the
// presence timeout expire together.
const (
	writeWait  = 10 * time.Second
	pongWait   = presence.Timeout
	pingPeriod = (pongWait * 9) / 10
)

// Message is the envelope for every websocket frame.
type Message struct {
	Type string `json:"type"`

	// chat
	ReceiverID uint   `json:"receiver_id,omitempty"`
	Content    string `json:"content,omitempty"`

	// signaling relay between the two call parties
	AppointmentID uint            `json:"appointment_id,omitempty"`
	To            uint            `json:"to,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`

	// server -> client payloads
	SenderID     uint                 `json:"sender_id,omitempty"`
	ChatMessage  *models.Message      `json:"message,omitempty"`
	Event        *session.CallEvent   `json:"event,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Client is one websocket connection for one user.
type Client struct {
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
	hub    *Hub
}

// Hub tracks connections per user and relays chat, signaling and notification
// frames. It is also the Signaler for the session coordinator and the Emitter
// for the notification fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint][]*Client

	db          *gorm.DB
	presence    presence.Store
	coordinator *session.Coordinator
}

func NewHub(db *gorm.DB, pres presence.Store) *Hub {
	return &Hub{
		clients:  make(map[uint][]*Client),
		db:       db,
		presence: pres,
	}
}

// SetCoordinator breaks the construction cycle: the coordinator needs the hub
// as its signaler, the hub needs the coordinator for disconnect cleanup.
func (h *Hub) SetCoordinator(c *session.Coordinator) {
	h.coordinator = c
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client.UserID] = append(h.clients[client.UserID], client)
	h.mu.Unlock()

	if err := h.presence.MarkOnline(context.Background(), client.UserID); err != nil {
		log.Printf("ws: marking user %d online: %v", client.UserID, err)
	}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	connections := h.clients[client.UserID]
	found := false
	remaining := make([]*Client, 0, len(connections))
	for _, conn := range connections {
		if conn == client {
			found = true
			continue
		}
		remaining = append(remaining, conn)
	}
	if !found {
		// already unregistered
		h.mu.Unlock()
		return
	}
	lastConnection := len(remaining) == 0
	if lastConnection {
		delete(h.clients, client.UserID)
	} else {
		h.clients[client.UserID] = remaining
	}
	// closed under the lock so broadcasts, which send under RLock, can never
	// hit a closed channel
	close(client.Send)
	h.mu.Unlock()

	if lastConnection {
		ctx := context.Background()
		if err := h.presence.MarkOffline(ctx, client.UserID); err != nil {
			log.Printf("ws: marking user %d offline: %v", client.UserID, err)
		}
		if h.coordinator != nil {
			h.coordinator.HandleDisconnect(ctx, client.UserID)
		}
	}
}

// BroadcastToUser sends raw bytes to every connection the user holds and
// reports whether at least one delivery was queued.
func (h *Hub) BroadcastToUser(userID uint, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for _, client := range h.clients[userID] {
		select {
		case client.Send <- message:
			delivered = true
		default:
			// slow consumer; drop the frame rather than block the hub
		}
	}
	return delivered
}

// EmitCallEvent implements session.Signaler. A user with no live connection
// is not an error: the durable notification covers them.
func (h *Hub) EmitCallEvent(ctx context.Context, toUserID uint, event session.CallEvent) error {
	payload, err := json.Marshal(Message{Type: TypeSignaling, Event: &event})
	if err != nil {
		return fmt.Errorf("marshal call event: %w", err)
	}
	h.BroadcastToUser(toUserID, payload)
	return nil
}

// EmitNotification implements notify.Emitter.
func (h *Hub) EmitNotification(ctx context.Context, userID uint, n *models.Notification) error {
	payload, err := json.Marshal(Message{Type: TypeNotification, Notification: n})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	h.BroadcastToUser(userID, payload)
	return nil
}

// handleMessage dispatches one inbound frame. Any frame counts as a
// heartbeat.
func (h *Hub) handleMessage(client *Client, raw []byte) {
	ctx := context.Background()
	if err := h.presence.Heartbeat(ctx, client.UserID); err != nil {
		log.Printf("ws: heartbeat for user %d: %v", client.UserID, err)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("ws: error unmarshaling message from user %d: %v", client.UserID, err)
		return
	}

	switch msg.Type {
	case TypeHeartbeat:
		// presence already refreshed above
	case TypeChat:
		h.handleChat(ctx, client, msg)
	case TypeSignaling:
		h.handleSignaling(client, msg)
	}
}

func (h *Hub) handleChat(ctx context.Context, client *Client, msg Message) {
	if msg.ReceiverID == 0 || msg.Content == "" {
		return
	}

	message := models.Message{
		SenderID:   client.UserID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
	}
	if err := h.db.WithContext(ctx).Create(&message).Error; err != nil {
		log.Printf("ws: error saving message: %v", err)
		return
	}

	response, _ := json.Marshal(Message{
		Type:        TypeChat,
		SenderID:    client.UserID,
		ChatMessage: &message,
	})
	h.BroadcastToUser(msg.ReceiverID, response)
}

// handleSignaling relays connection-setup blobs (offers, answers, candidates)
// between the two parties of an active call. Frames from anyone who is not a
// party of the call are dropped.
func (h *Hub) handleSignaling(client *Client, msg Message) {
	if msg.AppointmentID == 0 || msg.To == 0 {
		return
	}
	call, ok := h.coordinatorCall(msg.AppointmentID)
	if !ok {
		return
	}
	if !callHasParties(call, client.UserID, msg.To) {
		log.Printf("ws: dropping signaling frame from user %d for appointment %d", client.UserID, msg.AppointmentID)
		return
	}

	relay, _ := json.Marshal(Message{
		Type:          TypeSignaling,
		AppointmentID: msg.AppointmentID,
		SenderID:      client.UserID,
		Data:          msg.Data,
	})
	h.BroadcastToUser(msg.To, relay)
}

func (h *Hub) coordinatorCall(appointmentID uint) (*session.CallSession, bool) {
	if h.coordinator == nil {
		return nil, false
	}
	return h.coordinator.ActiveCall(appointmentID)
}

func callHasParties(call *session.CallSession, a, b uint) bool {
	pair := map[uint]bool{call.InitiatorID: true, call.CounterpartID: true}
	return pair[a] && pair[b]
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: error: %v", err)
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handleMessage(c, message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
