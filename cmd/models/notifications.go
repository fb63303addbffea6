package models

import (
	"time"

	"gorm.io/gorm"
)

type Device struct {
    gorm.Model // This already includes ID, CreatedAt, UpdatedAt, DeletedAt
    Token      string `gorm:"not null;uniqueIndex:idx_token_user" json:"token"`
    UserID     uint   `gorm:"not null;index;uniqueIndex:idx_token_user" json:"user_id"`
    DeviceType string `gorm:"type:varchar(50)" json:"device_type"`
    DeviceName string `gorm:"type:varchar(100)" json:"device_name,omitempty"`
}

// Notification types emitted by the fan-out component.
const (
    NotificationSessionStartingSoon = "session-starting-soon"
    NotificationSessionIncoming     = "session-incoming"
    NotificationSessionEnded        = "session-ended"
    NotificationNewBooking          = "new-booking"
    NotificationBookingCancelled    = "booking-cancelled"
    NotificationAvailabilityChange  = "availability-change"
    NotificationNewMessage          = "new-message"
)

// Notification is the durable per-recipient record. The read flag is flipped by
// the recipient's client; rows are removed by explicit delete or bulk cleanup.
type Notification struct {
    gorm.Model
    RecipientID   uint      `gorm:"column:recipient_id;index;not null" json:"recipient_id"`
    Type          string    `gorm:"column:type;type:varchar(50);not null" json:"type"`
    Title         string    `gorm:"column:title;size:255" json:"title"`
    Body          string    `gorm:"column:body;type:text" json:"body"`
    Payload       string    `gorm:"column:payload;type:text" json:"payload,omitempty"` // JSON blob
    AppointmentID uint      `gorm:"column:appointment_id;index" json:"appointment_id,omitempty"`
    Read          bool      `gorm:"column:read;default:false" json:"read"`
    PushStatus    string    `gorm:"column:push_status;type:varchar(20)" json:"push_status"` // sent, failed, skipped
    SentAt        time.Time `json:"sent_at"`
}

// NotificationRequest represents a request to send a notification
type NotificationRequest struct {
    Token string                 `json:"token"`
    Title string                 `json:"title"`
    Body  string                 `json:"body"`
    Data  map[string]interface{} `json:"data,omitempty"`
}

// BroadcastRequest represents a request to broadcast to all devices
type BroadcastRequest struct {
    Title   string                 `json:"title"`
    Body    string                 `json:"body"`
    Data    map[string]interface{} `json:"data,omitempty"`
    UserIDs []uint                 `json:"user_ids,omitempty"` // Optional: specific users to notify
}
