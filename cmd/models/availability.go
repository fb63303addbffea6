package models

import (
	"time"

	"gorm.io/gorm"
)

type Availability struct {
	gorm.Model
	TherapistID   uint      `gorm:"column:therapist_id;not null" json:"therapist_id"`
	Note          string    `gorm:"column:note;type:text" json:"note"`
	Date          time.Time `gorm:"column:date;not null" json:"date"`
	StartTime     time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime       time.Time `gorm:"column:end_time;not null" json:"end_time"`
	SessionFormat string    `gorm:"column:session_format;size:20;default:'video'" json:"session_format"`
	Reminder      bool      `gorm:"column:reminder;default:false" json:"reminder"`
	Price         float64   `gorm:"column:price;not null" json:"price"`

	Therapist *Therapist `gorm:"foreignKey:TherapistID" json:"-"`
}

func (Availability) TableName() string {
	return "availabilities"
}
