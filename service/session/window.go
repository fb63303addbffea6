package session

import (
	"fmt"
	"time"

	"github.com/mindhaven/mindhaven-server/cmd/models"
)

// Join window margins around the scheduled slot. One canonical policy is used
// for both the initial join and a mid-session rejoin; rejoin differs only in
// the appointment statuses it admits.
const (
	JoinEarlyMargin = 5 * time.Minute
	JoinLateMargin  = 15 * time.Minute
)

// WindowResult reports whether a join is currently allowed and, when it is
// not, a reason suitable for direct display to the user.
type WindowResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// EvaluateJoinWindow decides whether a participant may enter the video session
// for an appointment at the given instant. Pure function of its inputs.
//
// The allowed window is [start - 5m, end + 15m]. Initial joins require status
// "confirmed"; rejoins also admit "ongoing".
func EvaluateJoinWindow(start, end time.Time, status models.AppointmentStatus, rejoin bool, now time.Time) WindowResult {
	switch status {
	case models.StatusConfirmed:
	case models.StatusOngoing:
		if !rejoin {
			return WindowResult{Reason: "session is already in progress"}
		}
	case models.StatusCancelled:
		return WindowResult{Reason: "session has been cancelled"}
	case models.StatusCompleted:
		return WindowResult{Reason: "session has ended, joining window closed"}
	default:
		return WindowResult{Reason: "session is not confirmed yet"}
	}

	opens := start.Add(-JoinEarlyMargin)
	closes := end.Add(JoinLateMargin)

	if now.Before(opens) {
		// Count the partial current minute so "in 1m" never shows for a
		// window that is a full minute away.
		mins := int(opens.Sub(now).Minutes()) + 1
		return WindowResult{Reason: fmt.Sprintf("session available in %dm", mins)}
	}
	if now.After(closes) {
		return WindowResult{Reason: "session has ended, joining window closed"}
	}
	return WindowResult{Allowed: true}
}
