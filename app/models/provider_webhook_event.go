package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderWebhookEvent stores billing provider webhook payloads with
// deduplication metadata for idempotent processing.
type ProviderWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_provider_webhook_events_event" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreateProviderWebhookEventIfNotExists inserts the event unless one with the
// same provider event id already exists. The bool reports whether this call
// created the row.
func CreateProviderWebhookEventIfNotExists(db *gorm.DB, event *ProviderWebhookEvent) (bool, *ProviderWebhookEvent, error) {
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored ProviderWebhookEvent
	if err := db.Where("provider_event_id = ?", event.ProviderEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// MarkProviderWebhookProcessed stamps the event and stores an optional error.
func MarkProviderWebhookProcessed(db *gorm.DB, id uint, processingErr error) error {
	now := time.Now()
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return db.Model(&ProviderWebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     &now,
		"processing_error": errMsg,
	}).Error
}
