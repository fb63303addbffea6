package models


import (
    "time"

    "gorm.io/gorm"
)

// AppointmentStatus is the lifecycle state of a booked session. Transitions
// only move forward (booked -> confirmed -> ongoing -> completed); cancellation
// is terminal from any state except completed.
type AppointmentStatus string

const (
    StatusBooked    AppointmentStatus = "booked"
    StatusConfirmed AppointmentStatus = "confirmed"
    StatusOngoing   AppointmentStatus = "ongoing"
    StatusCompleted AppointmentStatus = "completed"
    StatusCancelled AppointmentStatus = "cancelled"
)

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
    if next == StatusCancelled {
        return s != StatusCompleted && s != StatusCancelled
    }
    switch s {
    case StatusBooked:
        return next == StatusConfirmed
    case StatusConfirmed:
        return next == StatusOngoing
    case StatusOngoing:
        return next == StatusCompleted
    }
    return false
}

const (
    FormatVideo = "video"
    FormatChat  = "chat"
)

type Appointment struct {
    gorm.Model
    ClientID         uint      `gorm:"not null" json:"client_id"`
    TherapistID      uint      `gorm:"not null" json:"therapist_id"`
    AvailabilityID   uint      `gorm:"not null" json:"availability_id"`
    AppointmentDate  time.Time `gorm:"not null" json:"appointment_date"`
    StartTime        time.Time `gorm:"not null" json:"start_time"`
    EndTime          time.Time `gorm:"not null" json:"end_time"`
    DurationMinutes  int       `gorm:"not null" json:"duration_minutes"`
    SessionFormat    string    `gorm:"size:20;default:'video'" json:"session_format"`
    Status           AppointmentStatus `gorm:"size:20;default:'booked'" json:"status"`
    Note             string    `gorm:"type:text" json:"note,omitempty"`

    JoinedAt         *time.Time `gorm:"column:joined_at" json:"joined_at,omitempty"`
    CompletedAt      *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

    Client           *User         `gorm:"foreignKey:ClientID" json:"client,omitempty"`
    Therapist        *Therapist    `gorm:"foreignKey:TherapistID" json:"therapist,omitempty"`
    Availability     *Availability `gorm:"foreignKey:AvailabilityID" json:"availability,omitempty"`
}
