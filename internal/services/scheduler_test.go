package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"catalog-sync-service/internal/models"
)

func TestSweepEnqueuesDueConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Never reconciled: due immediately.
	due := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	// Reconciled moments ago: not due.
	fresh := env.newConnection(t, models.PlatformSquare, models.ConnectionSyncing)
	require.NoError(t, env.connRepo.PatchData(ctx, fresh.ID, map[string]interface{}{
		models.DataKeyLastReconciliationAt: time.Now().UTC().Format(time.RFC3339),
	}))
	// Mid-pipeline connections are never swept.
	env.newConnection(t, models.PlatformClover, models.ConnectionScanning)

	scheduler := NewReconciliationScheduler(env.connRepo, env.queues, time.Hour, 20, zap.NewNop())
	scheduler.Sweep(ctx)

	var jobs []models.SyncQueueJob
	require.NoError(t, env.db.Where("queue_name = ?", models.QueueReconciliation).Find(&jobs).Error)
	require.Len(t, jobs, 1)

	var payload ScanJobPayload
	require.NoError(t, decodePayload(jobs[0].Payload, &payload))
	assert.Equal(t, due.ID, payload.ConnectionID)

	// A second sweep dedupes against the still-waiting job.
	scheduler.Sweep(ctx)
	require.NoError(t, env.db.Where("queue_name = ?", models.QueueReconciliation).Find(&jobs).Error)
	assert.Len(t, jobs, 1)
}

func TestSweepSkipsDisabledConnections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	require.NoError(t, env.connRepo.SetEnabled(ctx, conn.ID, false))

	scheduler := NewReconciliationScheduler(env.connRepo, env.queues, time.Hour, 20, zap.NewNop())
	scheduler.Sweep(ctx)

	var count int64
	env.db.Model(&models.SyncQueueJob{}).Where("queue_name = ?", models.QueueReconciliation).Count(&count)
	assert.Zero(t, count)
}
