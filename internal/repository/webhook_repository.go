package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-sync-service/internal/models"
)

// WebhookRepository handles persisted webhook events
type WebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Insert stores an event. Returns created=false when the idempotency key has
// been seen before; duplicates are the caller's signal to ACK and drop.
func (r *WebhookRepository) Insert(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Payload == nil {
		event.Payload = models.JSONB{}
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Get loads one stored event.
func (r *WebhookRepository) Get(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkProcessed stamps a terminal status on the event row.
func (r *WebhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, status models.WebhookEventStatus, errMessage string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"processed_at": now,
	}
	if errMessage != "" {
		updates["error_message"] = errMessage
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteOlderThan prunes terminal events past the retention window.
func (r *WebhookRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]models.WebhookEventStatus{models.WebhookProcessed, models.WebhookSkipped}, cutoff).
		Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}
