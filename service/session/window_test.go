package session

import (
	"testing"
	"time"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	"github.com/stretchr/testify/assert"
)

var (
	sessionStart = time.Date(2025, 2, 10, 10, 0, 0, 0, time.UTC)
	sessionEnd   = time.Date(2025, 2, 10, 10, 50, 0, 0, time.UTC)
)

func TestJoinWindowTimeBounds(t *testing.T) {
	cases := []struct {
		name    string
		now     time.Time
		allowed bool
		reason  string
	}{
		{"four minutes early", time.Date(2025, 2, 10, 9, 56, 0, 0, time.UTC), true, ""},
		{"window opens exactly", time.Date(2025, 2, 10, 9, 55, 0, 0, time.UTC), true, ""},
		{"ten minutes early", time.Date(2025, 2, 10, 9, 50, 0, 0, time.UTC), false, "session available in 6m"},
		{"mid session", time.Date(2025, 2, 10, 10, 30, 0, 0, time.UTC), true, ""},
		{"grace period", time.Date(2025, 2, 10, 11, 0, 0, 0, time.UTC), true, ""},
		{"window closes exactly", time.Date(2025, 2, 10, 11, 5, 0, 0, time.UTC), true, ""},
		{"twenty minutes late", time.Date(2025, 2, 10, 11, 10, 0, 0, time.UTC), false, "session has ended, joining window closed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusConfirmed, false, tc.now)
			assert.Equal(t, tc.allowed, result.Allowed)
			assert.Equal(t, tc.reason, result.Reason)
		})
	}
}

func TestJoinWindowMinutesRemaining(t *testing.T) {
	// partial minutes count toward the wait
	now := time.Date(2025, 2, 10, 9, 50, 30, 0, time.UTC)
	result := EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusConfirmed, false, now)
	assert.False(t, result.Allowed)
	assert.Equal(t, "session available in 5m", result.Reason)
}

func TestJoinWindowStatusGate(t *testing.T) {
	inWindow := time.Date(2025, 2, 10, 10, 5, 0, 0, time.UTC)

	result := EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusBooked, false, inWindow)
	assert.False(t, result.Allowed)
	assert.Equal(t, "session is not confirmed yet", result.Reason)

	result = EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusCancelled, false, inWindow)
	assert.False(t, result.Allowed)

	result = EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusCompleted, false, inWindow)
	assert.False(t, result.Allowed)

	// an ongoing session only admits rejoins
	result = EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusOngoing, false, inWindow)
	assert.False(t, result.Allowed)

	result = EvaluateJoinWindow(sessionStart, sessionEnd, models.StatusOngoing, true, inWindow)
	assert.True(t, result.Allowed)
}
