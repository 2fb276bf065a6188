package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
)

// ReconciliationScheduler periodically enqueues reconciliation runs for
// SYNCING connections whose last reconciliation is older than the configured
// age. Dedup keys keep a connection from piling up runs.
type ReconciliationScheduler struct {
	connRepo *repository.ConnectionRepository
	queues   *queue.Manager
	maxAge   time.Duration
	pageSize int
	log      *zap.Logger
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(connRepo *repository.ConnectionRepository, queues *queue.Manager, maxAge time.Duration, pageSize int, log *zap.Logger) *ReconciliationScheduler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &ReconciliationScheduler{
		connRepo: connRepo,
		queues:   queues,
		maxAge:   maxAge,
		pageSize: pageSize,
		log:      log.Named("reconciliation-scheduler"),
	}
}

// Sweep enqueues reconciliation jobs for every due connection. Called from a
// cron entry; errors log and never propagate.
func (s *ReconciliationScheduler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	due, err := s.connRepo.ListSyncingOlderThan(ctx, cutoff, s.pageSize)
	if err != nil {
		s.log.Error("failed to list connections due for reconciliation", zap.Error(err))
		return
	}

	for _, conn := range due {
		payload, err := encodePayload(ScanJobPayload{ConnectionID: conn.ID, UserID: conn.UserID})
		if err != nil {
			s.log.Error("failed to encode reconciliation payload", zap.Error(err))
			continue
		}
		dedupKey := fmt.Sprintf("reconcile-%s", conn.ID)
		if _, err := s.queues.Enqueue(ctx, models.QueueReconciliation, "reconciliation", conn.UserID, payload, &dedupKey); err != nil {
			s.log.Error("failed to enqueue reconciliation",
				zap.String("connection_id", conn.ID.String()),
				zap.Error(err))
			continue
		}
		s.log.Info("reconciliation scheduled",
			zap.String("connection_id", conn.ID.String()))
	}
}
