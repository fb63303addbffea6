package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	statuses := []AppointmentStatus{
		StatusBooked, StatusConfirmed, StatusOngoing, StatusCompleted, StatusCancelled,
	}
	allowed := map[AppointmentStatus]map[AppointmentStatus]bool{
		StatusBooked:    {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusOngoing: true, StatusCancelled: true},
		StatusOngoing:   {StatusCompleted: true, StatusCancelled: true},
		StatusCompleted: {},
		StatusCancelled: {},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[from][to], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransitionRejectsSkips(t *testing.T) {
	// no skipping ahead in the lifecycle
	assert.False(t, StatusBooked.CanTransition(StatusOngoing))
	assert.False(t, StatusBooked.CanTransition(StatusCompleted))
	assert.False(t, StatusConfirmed.CanTransition(StatusCompleted))

	// no moving backwards
	assert.False(t, StatusOngoing.CanTransition(StatusConfirmed))
	assert.False(t, StatusCompleted.CanTransition(StatusOngoing))

	// terminal states stay terminal
	assert.False(t, StatusCompleted.CanTransition(StatusCancelled))
	assert.False(t, StatusCancelled.CanTransition(StatusBooked))
	assert.False(t, StatusCancelled.CanTransition(StatusCancelled))
}
