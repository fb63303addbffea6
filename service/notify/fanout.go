package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mindhaven/mindhaven-server/cmd/models"
)

// Store appends durable notification records. Appends preserve call order, so
// per-recipient delivery is FIFO.
type Store interface {
	Append(ctx context.Context, n *models.Notification) error
}

// Pusher delivers a push notification to every device a user has registered.
type Pusher interface {
	PushToUser(ctx context.Context, userID uint, title, body string, data map[string]interface{}) error
}

// Emitter delivers a transient realtime event to a connected user. An offline
// user is not an error; the durable record covers them.
type Emitter interface {
	EmitNotification(ctx context.Context, userID uint, n *models.Notification) error
}

// Fanout converts session-lifecycle and scheduling events into per-user
// notifications: one durable record plus a best-effort push and realtime
// event. The three channels are independent; a failure in one never blocks
// the others.
type Fanout struct {
	store   Store
	pusher  Pusher
	emitter Emitter
	seen    SeenStore

	now func() time.Time
}

func NewFanout(store Store, pusher Pusher, emitter Emitter, seen SeenStore) *Fanout {
	return &Fanout{
		store:   store,
		pusher:  pusher,
		emitter: emitter,
		seen:    seen,
		now:     time.Now,
	}
}

// notificationText maps a type tag to the user-facing title and body.
func notificationText(typ string, payload map[string]interface{}) (string, string) {
	switch typ {
	case models.NotificationSessionStartingSoon:
		return "Session starting soon", "Your session starts in a few minutes. You can join 5 minutes before the start time."
	case models.NotificationSessionIncoming:
		name, _ := payload["provider_name"].(string)
		if name != "" {
			return "Incoming session", fmt.Sprintf("%s is ready to start your session.", name)
		}
		return "Incoming session", "Your therapist is ready to start your session."
	case models.NotificationSessionEnded:
		return "Session ended", "Your session has ended."
	case models.NotificationNewBooking:
		return "New booking", "You have a new appointment booking."
	case models.NotificationBookingCancelled:
		return "Booking cancelled", "An appointment was cancelled."
	case models.NotificationAvailabilityChange:
		return "Availability updated", "A therapist you follow updated their availability."
	case models.NotificationNewMessage:
		return "New message", "You have a new message."
	default:
		return "MindHaven", ""
	}
}

func appointmentIDFromPayload(payload map[string]interface{}) uint {
	switch v := payload["appointment_id"].(type) {
	case uint:
		return v
	case int:
		return uint(v)
	case float64:
		return uint(v)
	}
	return 0
}

// Notify records and delivers one notification. For session-starting-soon the
// seen-set guarantees at most one record per appointment per recipient; a
// repeat is dropped silently.
func (f *Fanout) Notify(ctx context.Context, recipientID uint, typ string, payload map[string]interface{}) error {
	appointmentID := appointmentIDFromPayload(payload)

	if typ == models.NotificationSessionStartingSoon {
		key := fmt.Sprintf("%s:appt:%d:user:%d", typ, appointmentID, recipientID)
		first, err := f.seen.MarkSeen(ctx, key)
		if err != nil {
			// fail open: a duplicate reminder beats a missing one
			log.Printf("notify: dedup check for %s: %v", key, err)
		} else if !first {
			return nil
		}
	}

	title, body := notificationText(typ, payload)
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify: marshaling payload for %s: %v", typ, err)
	}

	n := &models.Notification{
		RecipientID:   recipientID,
		Type:          typ,
		Title:         title,
		Body:          body,
		Payload:       string(data),
		AppointmentID: appointmentID,
		SentAt:        f.now(),
		PushStatus:    "sent",
	}

	var durableErr, pushErr error

	if err := f.store.Append(ctx, n); err != nil {
		// logged and the push still attempted: the two channels are independent
		durableErr = fmt.Errorf("durable notification write: %w", err)
		log.Printf("notify: %v", durableErr)
	}

	if err := f.pusher.PushToUser(ctx, recipientID, title, body, payload); err != nil {
		pushErr = fmt.Errorf("push to user %d: %w", recipientID, err)
		log.Printf("notify: %v", pushErr)
		n.PushStatus = "failed"
	}

	if err := f.emitter.EmitNotification(ctx, recipientID, n); err != nil {
		log.Printf("notify: realtime emit to user %d: %v", recipientID, err)
	}

	return errors.Join(durableErr, pushErr)
}
