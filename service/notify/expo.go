package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/mindhaven/mindhaven-server/cmd/models"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gorm.io/gorm"
)

// GormStore appends notification rows through the shared database handle.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Append(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ExpoPusher resolves a user's registered devices and publishes through the
// Expo push service.
type ExpoPusher struct {
	db     *gorm.DB
	client *expo.PushClient
}

func NewExpoPusher(db *gorm.DB) *ExpoPusher {
	return &ExpoPusher{
		db:     db,
		client: expo.NewPushClient(nil),
	}
}

func (p *ExpoPusher) PushToUser(ctx context.Context, userID uint, title, body string, data map[string]interface{}) error {
	var devices []models.Device
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		return fmt.Errorf("load devices for user %d: %w", userID, err)
	}
	if len(devices) == 0 {
		// nothing registered; the durable record covers this user
		return nil
	}

	var validTokens []expo.ExponentPushToken
	var invalidTokens []string
	for _, device := range devices {
		pushToken, err := expo.NewExponentPushToken(device.Token)
		if err != nil {
			log.Printf("Invalid push token format %s: %v", device.Token, err)
			invalidTokens = append(invalidTokens, device.Token)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}
	p.cleanupInvalidTokens(invalidTokens)
	if len(validTokens) == 0 {
		return fmt.Errorf("no valid push tokens for user %d", userID)
	}

	// Expo wants string values in the data payload
	var stringData map[string]string
	if data != nil {
		stringData = make(map[string]string)
		for key, value := range data {
			stringData[key] = fmt.Sprintf("%v", value)
		}
	}

	pushMessage := &expo.PushMessage{
		To:       validTokens,
		Body:     body,
		Title:    title,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     stringData,
	}

	response, err := p.client.Publish(pushMessage)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %v", err)
	}
	if validationErr := response.ValidateResponse(); validationErr != nil {
		return fmt.Errorf("notification validation failed: %v", validationErr)
	}
	return nil
}

// cleanupInvalidTokens removes tokens Expo can never deliver to.
func (p *ExpoPusher) cleanupInvalidTokens(tokens []string) {
	for _, token := range tokens {
		if err := p.db.Where("token = ?", token).Delete(&models.Device{}).Error; err != nil {
			log.Printf("Error cleaning up invalid token %s: %v", token, err)
		}
	}
}
