package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventStatus tracks async processing of a stored webhook
type WebhookEventStatus string

const (
	WebhookPending   WebhookEventStatus = "PENDING"
	WebhookProcessed WebhookEventStatus = "PROCESSED"
	WebhookFailed    WebhookEventStatus = "FAILED"
	WebhookSkipped   WebhookEventStatus = "SKIPPED"
)

// WebhookEvent persists every accepted webhook before it is enqueued, so
// ingest can ACK fast and processing failures stay auditable. IdempotencyKey
// is "<platform>-<eventID>"; duplicates are dropped at insert time.
type WebhookEvent struct {
	ID                   uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	PlatformConnectionID uuid.UUID    `gorm:"type:uuid;not null;index:idx_webhook_events_connection" json:"platformConnectionId"`
	PlatformType         PlatformType `gorm:"type:varchar(50);not null" json:"platformType"`

	EventType      string `gorm:"type:varchar(100);not null" json:"eventType"`
	IdempotencyKey string `gorm:"type:varchar(500);not null;uniqueIndex:idx_webhook_events_idempotency" json:"idempotencyKey"`
	Payload        JSONB  `gorm:"type:jsonb;not null" json:"payload"`

	Status       WebhookEventStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_webhook_events_status" json:"status"`
	ErrorMessage *string            `gorm:"type:text" json:"errorMessage,omitempty"`
	ProcessedAt  *time.Time         `json:"processedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for WebhookEvent
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
