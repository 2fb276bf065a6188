package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/repository"
)

// Activity operations recorded by the processors.
const (
	OpScanCompleted           = "SCAN_COMPLETED"
	OpScanFailed              = "SCAN_FAILED"
	OpReconciliationCompleted = "RECONCILIATION_COMPLETED"
	OpReconciliationFailed    = "RECONCILIATION_FAILED"

	OpProductPushCreatedSuccess = "PRODUCT_PUSH_CREATED_SUCCESS"
	OpProductPushCreatedFailed  = "PRODUCT_PUSH_CREATED_FAILED"
	OpProductPushCreatedSkipped = "PRODUCT_PUSH_CREATED_SKIPPED"
	OpProductPushUpdatedSuccess = "PRODUCT_PUSH_UPDATED_SUCCESS"
	OpProductPushUpdatedFailed  = "PRODUCT_PUSH_UPDATED_FAILED"
	OpProductPushUpdatedSkipped = "PRODUCT_PUSH_UPDATED_SKIPPED"
	OpProductPushDeletedSuccess = "PRODUCT_PUSH_DELETED_SUCCESS"
	OpProductPushDeletedFailed  = "PRODUCT_PUSH_DELETED_FAILED"
	OpInventoryPushSuccess      = "INVENTORY_PUSH_SUCCESS"
	OpInventoryPushFailed       = "INVENTORY_PUSH_FAILED"
	OpInventoryPushSkipped      = "INVENTORY_PUSH_SKIPPED"

	OpWebhookProductApplied   = "WEBHOOK_PRODUCT_APPLIED"
	OpWebhookInventoryApplied = "WEBHOOK_INVENTORY_APPLIED"
	OpWebhookProcessingFailed = "WEBHOOK_PROCESSING_FAILED"
)

// ActivityService writes and reads the user-visible activity log.
type ActivityService struct {
	repo *repository.ActivityRepository
	log  *zap.Logger
}

// NewActivityService creates a new activity service
func NewActivityService(repo *repository.ActivityRepository, log *zap.Logger) *ActivityService {
	return &ActivityService{repo: repo, log: log.Named("activity")}
}

// Record appends one entry. Best-effort: activity logging never fails the
// operation it describes.
func (s *ActivityService) Record(ctx context.Context, userID string, connectionID *uuid.UUID, operation string, status models.ActivityStatus, message string, details models.JSONB) {
	entry := &models.ActivityLog{
		UserID:               userID,
		PlatformConnectionID: connectionID,
		Operation:            operation,
		Status:               status,
		Message:              message,
		Details:              details,
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.log.Warn("failed to append activity log entry",
			zap.String("operation", operation),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// List returns a page of the user's activity, newest first.
func (s *ActivityService) List(ctx context.Context, opts repository.ActivityListOptions) ([]models.ActivityLog, int64, error) {
	return s.repo.List(ctx, opts)
}
