package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)


type User struct {
    gorm.Model
    FullName       string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
    Email          string    `gorm:"column:email;size:255;not null" json:"email"`
    PasswordHash   string    `gorm:"column:password_hash;size:255;not null" json:"-"`
    Role           string    `gorm:"column:role;size:50;not null" json:"role"`
    Phone          string    `gorm:"column:phone;size:20;not null" json:"phone"`
    PhoneVerified  bool      `gorm:"column:phone_verified;default:false" json:"phone_verified"`
    EmailVerified  bool      `gorm:"column:email_verified;default:false" json:"email_verified"`
    Status         string    `gorm:"column:status;size:50;not null;default:inactive" json:"status"`
    Refresh        string    `gorm:"column:refresh_token;size:255" json:"-"`
    RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`
    ProfilePicturePath string `gorm:"column:profile_picture_path;size:255" json:"profile_picture_path"`
    EmailVerificationCode string    `gorm:"size:6" json:"-"`
    VerificationExpiry    time.Time `gorm:"" json:"-"`

    Therapist      *Therapist `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"therapist,omitempty"`
}

// Roles a user account can carry.
const (
    RoleClient    = "client"
    RoleTherapist = "therapist"
    RoleAdmin     = "admin"
)


type Therapist struct {
    gorm.Model
    UserID         uint           `gorm:"column:user_id;not null" json:"user_id"`
    Specialties    pq.StringArray `gorm:"type:text[];column:specialties" json:"specialties,omitempty"`
    Bio            string         `gorm:"column:bio;type:text" json:"bio"`
    Verified       bool           `gorm:"column:verified;default:false" json:"verified"`

    AverageRating  float64   `gorm:"column:average_rating;default:0" json:"average_rating"`
    TotalRatings   int       `gorm:"column:total_ratings;default:0" json:"total_ratings"`

    LicenseFiles   []LicenseFile `gorm:"foreignKey:TherapistID;constraint:OnDelete:CASCADE;" json:"license_files"`
    User           *User         `gorm:"foreignKey:UserID" json:"-"`

    Ratings        []Rating  `gorm:"foreignKey:TherapistID" json:"ratings,omitempty"`
}


type Rating struct {
    gorm.Model
    UserID      uint    `gorm:"column:user_id;not null" json:"user_id"`
    TherapistID uint    `gorm:"column:therapist_id;not null" json:"therapist_id"`
    Rating      float64 `gorm:"column:rating;not null" json:"rating"`
    Comment     string  `gorm:"column:comment;type:text" json:"comment"`
    User        *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
    Therapist   *Therapist `gorm:"foreignKey:TherapistID" json:"therapist,omitempty"`
}

func (Rating) TableName() string {
    return "ratings"
}


type LicenseFile struct {
    gorm.Model
    TherapistID uint   `gorm:"column:therapist_id;not null" json:"therapist_id"`
    FileName    string `gorm:"column:file_name;size:255;not null" json:"file_name"`
    FilePath    string `gorm:"column:file_path;size:500;not null" json:"file_path"`
}


type PasswordResetToken struct {
    ID        uint      `gorm:"primaryKey"`
    UserID    uint      `gorm:"not null"`
    Token     string    `gorm:"not null"`
    ExpiresAt time.Time `gorm:"not null"`
}
