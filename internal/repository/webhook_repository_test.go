package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/models"
)

func TestWebhookInsertDeduplicatesOnIdempotencyKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()
	conn := testConnection(t, db, models.ConnectionSyncing)

	event := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         models.PlatformShopify,
		EventType:            "PRODUCT_UPDATED",
		IdempotencyKey:       "SHOPIFY-evt-1",
		Payload:              models.JSONB{"platformProductId": "101"},
	}
	created, err := repo.Insert(ctx, event)
	require.NoError(t, err)
	assert.True(t, created)

	duplicate := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         models.PlatformShopify,
		EventType:            "PRODUCT_UPDATED",
		IdempotencyKey:       "SHOPIFY-evt-1",
		Payload:              models.JSONB{},
	}
	created, err = repo.Insert(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	db.Model(&models.WebhookEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestWebhookMarkProcessedStampsTerminalState(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()
	conn := testConnection(t, db, models.ConnectionSyncing)

	event := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         models.PlatformShopify,
		EventType:            "PRODUCT_UPDATED",
		IdempotencyKey:       "SHOPIFY-evt-1",
	}
	_, err := repo.Insert(ctx, event)
	require.NoError(t, err)

	require.NoError(t, repo.MarkProcessed(ctx, event.ID, models.WebhookFailed, "boom"))
	stored, err := repo.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "boom", *stored.ErrorMessage)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestWebhookDeleteOlderThanKeepsPendingRows(t *testing.T) {
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	ctx := context.Background()
	conn := testConnection(t, db, models.ConnectionSyncing)

	processed := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         models.PlatformShopify,
		EventType:            "PRODUCT_UPDATED",
		IdempotencyKey:       "SHOPIFY-old",
	}
	_, err := repo.Insert(ctx, processed)
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed(ctx, processed.ID, models.WebhookProcessed, ""))
	require.NoError(t, db.Model(&models.WebhookEvent{}).
		Where("id = ?", processed.ID).
		Update("created_at", time.Now().Add(-72*time.Hour)).Error)

	pending := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         models.PlatformShopify,
		EventType:            "PRODUCT_UPDATED",
		IdempotencyKey:       "SHOPIFY-pending",
	}
	_, err = repo.Insert(ctx, pending)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.WebhookEvent{}).
		Where("id = ?", pending.ID).
		Update("created_at", time.Now().Add(-72*time.Hour)).Error)

	pruned, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = repo.Get(ctx, pending.ID)
	assert.NoError(t, err)
}
