package session

import "errors"

// Error taxonomy for the call coordinator. Handlers map these to HTTP codes;
// everything else is treated as an internal error.
var (
	// ErrNotPermitted is returned when the caller is outside the join window,
	// has the wrong role for the operation, or there is no call to act on.
	ErrNotPermitted = errors.New("not permitted")

	// ErrAlreadyActive is returned when a call session already exists for the
	// appointment.
	ErrAlreadyActive = errors.New("call already active for this appointment")

	// ErrParticipantUnresolved is returned when the counterpart cannot be
	// determined from the appointment record.
	ErrParticipantUnresolved = errors.New("could not resolve call participant")

	// ErrSignaling wraps failures from the realtime channel. The appointment
	// status is never mutated when this is returned; callers should retry.
	ErrSignaling = errors.New("signaling channel failure")

	// ErrPersistence wraps durable write failures.
	ErrPersistence = errors.New("persistence failure")
)
