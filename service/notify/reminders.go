package notify

import (
	"context"
	"log"
	"time"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	"gorm.io/gorm"
)

// ReminderHorizon is how far ahead the scan looks for upcoming sessions.
const ReminderHorizon = 10 * time.Minute

// ReminderScan finds confirmed appointments about to start and fans out a
// session-starting-soon notification to both parties. The fan-out's seen-set
// keeps repeated scans from re-notifying the same appointment.
type ReminderScan struct {
	db     *gorm.DB
	fanout *Fanout

	now func() time.Time
}

func NewReminderScan(db *gorm.DB, fanout *Fanout) *ReminderScan {
	return &ReminderScan{
		db:     db,
		fanout: fanout,
		now:    time.Now,
	}
}

func (s *ReminderScan) Run(ctx context.Context) {
	now := s.now()

	var appointments []models.Appointment
	if err := s.db.WithContext(ctx).
		Preload("Therapist").
		Where("status = ? AND start_time BETWEEN ? AND ?", models.StatusConfirmed, now, now.Add(ReminderHorizon)).
		Find(&appointments).Error; err != nil {
		log.Printf("reminder scan: loading upcoming appointments: %v", err)
		return
	}

	for _, appt := range appointments {
		payload := map[string]interface{}{
			"appointment_id": appt.ID,
			"start_time":     appt.StartTime.Format(time.RFC3339),
		}
		if err := s.fanout.Notify(ctx, appt.ClientID, models.NotificationSessionStartingSoon, payload); err != nil {
			log.Printf("reminder scan: notifying client %d: %v", appt.ClientID, err)
		}
		if appt.Therapist != nil && appt.Therapist.UserID != 0 {
			if err := s.fanout.Notify(ctx, appt.Therapist.UserID, models.NotificationSessionStartingSoon, payload); err != nil {
				log.Printf("reminder scan: notifying therapist %d: %v", appt.Therapist.UserID, err)
			}
		}
	}
}
