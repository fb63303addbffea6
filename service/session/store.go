package session

import (
	"context"
	"fmt"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	"gorm.io/gorm"
)

// AppointmentStore is the slice of persistence the coordinator consumes.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id uint) (*models.Appointment, error)
	// SetAppointmentStatus flips the status only when the row is still in the
	// "from" state, and reports whether a row was updated. The guard makes the
	// write idempotent under concurrent joins.
	SetAppointmentStatus(ctx context.Context, id uint, from, to models.AppointmentStatus, extra map[string]interface{}) (bool, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetAppointment(ctx context.Context, id uint) (*models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).
		Preload("Therapist").Preload("Therapist.User").Preload("Client").
		First(&appt, id).Error; err != nil {
		return nil, fmt.Errorf("load appointment %d: %w", id, err)
	}
	return &appt, nil
}

func (s *GormStore) SetAppointmentStatus(ctx context.Context, id uint, from, to models.AppointmentStatus, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	result := s.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("update appointment %d status: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}
