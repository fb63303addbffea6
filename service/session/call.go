package session

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the coordinator's per-appointment state machine:
// idle -> initiating -> ringing -> connected -> ended. "idle" is represented
// by the absence of a CallSession entry.
type CallState string

const (
	StateInitiating CallState = "initiating"
	StateRinging    CallState = "ringing"
	StateConnected  CallState = "connected"
	StateEnded      CallState = "ended"
)

// CallSession is the ephemeral association between an appointment and its two
// call parties. It lives only in the coordinator; ending or abandoning the
// call destroys it. Exactly two participants, never N-way.
type CallSession struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uint      `json:"appointment_id"`
	InitiatorID   uint      `json:"initiator_id"`
	CounterpartID uint      `json:"counterpart_id"`
	State         CallState `json:"state"`
	StartedAt     time.Time `json:"started_at"`

	joined map[uint]bool
}

func newCallSession(appointmentID, initiatorID, counterpartID uint, now time.Time) *CallSession {
	return &CallSession{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		InitiatorID:   initiatorID,
		CounterpartID: counterpartID,
		State:         StateInitiating,
		StartedAt:     now,
		joined:        make(map[uint]bool),
	}
}

// isParty reports whether userID is one of the two call participants. Any
// third id is rejected rather than silently ignored.
func (s *CallSession) isParty(userID uint) bool {
	return userID == s.InitiatorID || userID == s.CounterpartID
}

func (s *CallSession) other(userID uint) uint {
	if userID == s.InitiatorID {
		return s.CounterpartID
	}
	return s.InitiatorID
}

// markJoined records a party as present and advances the state: one side
// present rings, both sides present connects.
func (s *CallSession) markJoined(userID uint) {
	s.joined[userID] = true
	if s.joined[s.InitiatorID] && s.joined[s.CounterpartID] {
		s.State = StateConnected
	} else {
		s.State = StateRinging
	}
}
