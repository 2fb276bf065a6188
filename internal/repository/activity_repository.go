package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"catalog-sync-service/internal/models"
)

// ActivityRepository handles the append-only activity log
type ActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append writes one log entry. Rows are never updated.
func (r *ActivityRepository) Append(ctx context.Context, entry *models.ActivityLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Details == nil {
		entry.Details = models.JSONB{}
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ActivityListOptions filters an activity page.
type ActivityListOptions struct {
	UserID       string
	ConnectionID *uuid.UUID
	Operation    string
	Limit        int
	Offset       int
}

// List returns a page of a user's activity, newest first.
func (r *ActivityRepository) List(ctx context.Context, opts ActivityListOptions) ([]models.ActivityLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ActivityLog{}).
		Where("user_id = ?", opts.UserID)
	if opts.ConnectionID != nil {
		query = query.Where("platform_connection_id = ?", *opts.ConnectionID)
	}
	if opts.Operation != "" {
		query = query.Where("operation = ?", opts.Operation)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var entries []models.ActivityLog
	err := query.Order("created_at desc").
		Limit(limit).
		Offset(opts.Offset).
		Find(&entries).Error
	return entries, total, err
}
