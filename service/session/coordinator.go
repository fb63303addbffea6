package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/mindhaven/mindhaven-server/service/presence"
)

// Realtime event names emitted across the channel to the other participant.
const (
	EventCallIncoming = "call-incoming"
	EventCallJoined   = "call-joined"
	EventCallEnded    = "call-ended"
)

// CallEvent is the payload pushed over the realtime channel for call setup.
type CallEvent struct {
	Type          string    `json:"type"`
	From          uint      `json:"from"`
	To            uint      `json:"to"`
	AppointmentID uint      `json:"appointment_id"`
	ProviderName  string    `json:"provider_name,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Signaler delivers a call event to a connected participant. Implemented by
// the websocket hub.
type Signaler interface {
	EmitCallEvent(ctx context.Context, toUserID uint, event CallEvent) error
}

// Notifier records a durable notification and attempts a best-effort push.
// Implemented by the notify fan-out.
type Notifier interface {
	Notify(ctx context.Context, recipientID uint, typ string, payload map[string]interface{}) error
}

// Coordinator orchestrates call initiation and joining between the two
// parties of an appointment. All transitions for one appointment are
// serialized through a per-appointment mutex; different appointments do not
// contend.
type Coordinator struct {
	store    AppointmentStore
	presence presence.Store
	signaler Signaler
	notifier Notifier

	now func() time.Time

	mu    sync.Mutex
	calls map[uint]*CallSession
	locks map[uint]*sync.Mutex
}

func NewCoordinator(store AppointmentStore, pres presence.Store, signaler Signaler, notifier Notifier) *Coordinator {
	return &Coordinator{
		store:    store,
		presence: pres,
		signaler: signaler,
		notifier: notifier,
		now:      time.Now,
		calls:    make(map[uint]*CallSession),
		locks:    make(map[uint]*sync.Mutex),
	}
}

func (c *Coordinator) apptLock(appointmentID uint) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.locks[appointmentID]
	if !ok {
		m = &sync.Mutex{}
		c.locks[appointmentID] = m
	}
	return m
}

// ActiveCall returns the live call session for an appointment, if any.
func (c *Coordinator) ActiveCall(appointmentID uint) (*CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[appointmentID]
	if !ok || call.State == StateEnded {
		return nil, false
	}
	return call, true
}

// callParties resolves the two participant user ids from appointment data.
func callParties(appt *models.Appointment) (clientID, therapistID uint, err error) {
	if appt.Therapist == nil || appt.Therapist.UserID == 0 {
		return 0, 0, fmt.Errorf("%w: appointment %d has no therapist", ErrParticipantUnresolved, appt.ID)
	}
	if appt.ClientID == 0 {
		return 0, 0, fmt.Errorf("%w: appointment %d has no client", ErrParticipantUnresolved, appt.ID)
	}
	return appt.ClientID, appt.Therapist.UserID, nil
}

func providerName(appt *models.Appointment) string {
	if appt.Therapist != nil && appt.Therapist.User != nil {
		return appt.Therapist.User.FullName
	}
	return ""
}

// StartCall opens a call session for the appointment. Only the therapist may
// initiate. The counterpart gets a durable notification always, plus a direct
// realtime event when online.
func (c *Coordinator) StartCall(ctx context.Context, appointmentID, initiatorID uint) (*CallSession, error) {
	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParticipantUnresolved, err)
	}
	clientID, therapistID, err := callParties(appt)
	if err != nil {
		return nil, err
	}
	if initiatorID != therapistID {
		return nil, fmt.Errorf("%w: only the therapist can start the session", ErrNotPermitted)
	}
	if win := EvaluateJoinWindow(appt.StartTime, appt.EndTime, appt.Status, true, c.now()); !win.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrNotPermitted, win.Reason)
	}

	lock := c.apptLock(appointmentID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if existing, ok := c.calls[appointmentID]; ok && existing.State != StateEnded {
		c.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	call := newCallSession(appointmentID, initiatorID, clientID, c.now())
	c.calls[appointmentID] = call
	c.mu.Unlock()

	online, perr := c.presence.IsOnline(ctx, clientID)
	if perr != nil {
		log.Printf("session: presence lookup for user %d: %v", clientID, perr)
		online = false
	}
	if online {
		ev := CallEvent{
			Type:          EventCallIncoming,
			From:          initiatorID,
			To:            clientID,
			AppointmentID: appointmentID,
			ProviderName:  providerName(appt),
			Timestamp:     c.now(),
		}
		if err := c.signaler.EmitCallEvent(ctx, clientID, ev); err != nil {
			// roll the entry back so a retry can start cleanly
			c.mu.Lock()
			delete(c.calls, appointmentID)
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
		}
	}

	if err := c.notifier.Notify(ctx, clientID, models.NotificationSessionIncoming, map[string]interface{}{
		"appointment_id": appointmentID,
		"provider_name":  providerName(appt),
		"call_id":        call.ID.String(),
	}); err != nil {
		log.Printf("session: notifying user %d of incoming call: %v", clientID, err)
	}

	return call, nil
}

// JoinCall marks a participant as present on the call. The first side rings,
// the second connects. On the first successful join the appointment flips
// confirmed -> ongoing with a joined_at stamp; re-invoking after that is a
// no-op, not an error.
func (c *Coordinator) JoinCall(ctx context.Context, appointmentID, participantID uint) (*CallSession, error) {
	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParticipantUnresolved, err)
	}
	clientID, therapistID, err := callParties(appt)
	if err != nil {
		return nil, err
	}
	if participantID != clientID && participantID != therapistID {
		return nil, fmt.Errorf("%w: not a participant of this appointment", ErrNotPermitted)
	}
	if win := EvaluateJoinWindow(appt.StartTime, appt.EndTime, appt.Status, true, c.now()); !win.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrNotPermitted, win.Reason)
	}

	lock := c.apptLock(appointmentID)
	lock.Lock()
	call, ok := c.ActiveCall(appointmentID)
	if !ok {
		lock.Unlock()
		return nil, fmt.Errorf("%w: no active call for this appointment", ErrNotPermitted)
	}
	callID := call.ID
	other := call.other(participantID)
	lock.Unlock()

	// Signal before any durable write: a channel failure must leave the
	// appointment untouched so the caller can simply retry the join.
	if online, perr := c.presence.IsOnline(ctx, other); perr == nil && online {
		ev := CallEvent{
			Type:          EventCallJoined,
			From:          participantID,
			To:            other,
			AppointmentID: appointmentID,
			Timestamp:     c.now(),
		}
		if err := c.signaler.EmitCallEvent(ctx, other, ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignaling, err)
		}
	} else if perr != nil {
		log.Printf("session: presence lookup for user %d: %v", other, perr)
	}

	lock.Lock()
	defer lock.Unlock()

	// Re-check state before applying: the call may have been ended while the
	// signaling round-trip was in flight.
	call, ok = c.ActiveCall(appointmentID)
	if !ok || call.ID != callID {
		return nil, fmt.Errorf("%w: call ended before join completed", ErrNotPermitted)
	}

	if appt.Status == models.StatusConfirmed {
		if _, err := c.store.SetAppointmentStatus(ctx, appointmentID, models.StatusConfirmed, models.StatusOngoing, map[string]interface{}{
			"joined_at": c.now(),
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	call.markJoined(participantID)
	return call, nil
}

// EndCall tears the session down. Either party may end; ending an already
// idle appointment is a no-op. At or after the scheduled end the appointment
// is marked completed, otherwise it stays ongoing for a later explicit
// completion.
func (c *Coordinator) EndCall(ctx context.Context, appointmentID, participantID uint) error {
	lock := c.apptLock(appointmentID)
	lock.Lock()
	call, ok := c.ActiveCall(appointmentID)
	if !ok {
		lock.Unlock()
		return nil
	}
	if !call.isParty(participantID) {
		lock.Unlock()
		return fmt.Errorf("%w: not a participant of this appointment", ErrNotPermitted)
	}
	call.State = StateEnded
	other := call.other(participantID)
	c.mu.Lock()
	delete(c.calls, appointmentID)
	c.mu.Unlock()
	lock.Unlock()

	appt, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		log.Printf("session: loading appointment %d at call end: %v", appointmentID, err)
	} else if appt.Status == models.StatusOngoing && !c.now().Before(appt.EndTime) {
		if _, err := c.store.SetAppointmentStatus(ctx, appointmentID, models.StatusOngoing, models.StatusCompleted, map[string]interface{}{
			"completed_at": c.now(),
		}); err != nil {
			// non-fatal: the call still ends, completion can be retried later
			log.Printf("session: completing appointment %d: %v", appointmentID, err)
		}
	}

	if online, perr := c.presence.IsOnline(ctx, other); perr == nil && online {
		ev := CallEvent{
			Type:          EventCallEnded,
			From:          participantID,
			To:            other,
			AppointmentID: appointmentID,
			Timestamp:     c.now(),
		}
		if err := c.signaler.EmitCallEvent(ctx, other, ev); err != nil {
			log.Printf("session: notifying call end for appointment %d: %v", appointmentID, err)
		}
	}
	return nil
}

// HandleDisconnect ends every call the user participates in. Invoked by the
// websocket hub when a connection drops.
func (c *Coordinator) HandleDisconnect(ctx context.Context, userID uint) {
	c.mu.Lock()
	var affected []uint
	for apptID, call := range c.calls {
		if call.isParty(userID) {
			affected = append(affected, apptID)
		}
	}
	c.mu.Unlock()
	for _, apptID := range affected {
		if err := c.EndCall(ctx, apptID, userID); err != nil {
			log.Printf("session: ending call for appointment %d on disconnect: %v", apptID, err)
		}
	}
}
