package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/syncerr"
)

func (e *testEnv) insertEvent(t *testing.T, conn *models.PlatformConnection, payload webhookEventPayload) *queue.Job {
	t.Helper()
	encoded, err := encodePayload(payload)
	require.NoError(t, err)
	event := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         conn.PlatformType,
		EventType:            payload.EventType,
		IdempotencyKey:       uuid.NewString(),
		Payload:              encoded,
	}
	created, err := e.webhookRepo.Insert(context.Background(), event)
	require.NoError(t, err)
	require.True(t, created)
	return e.jobFor(t, models.QueueWebhooks, JobWebhookEvent, WebhookJobPayload{
		WebhookEventID: event.ID,
		ConnectionID:   conn.ID,
		UserID:         conn.UserID,
	})
}

func (e *testEnv) pushJobs(t *testing.T) []models.SyncQueueJob {
	t.Helper()
	var jobs []models.SyncQueueJob
	require.NoError(t, e.db.Where("queue_name = ?", models.QueuePushOperations).Find(&jobs).Error)
	return jobs
}

func TestIngestRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].verifyErr = syncerr.New(syncerr.KindSignature, "hmac mismatch")

	status, err := env.webhook.Ingest(context.Background(), models.PlatformShopify, []byte("{}"), http.Header{})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Error(t, err)

	var events int64
	env.db.Model(&models.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)
}

func TestIngestRejectsUnknownLocator(t *testing.T) {
	env := newTestEnv(t)
	env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].parseMsg = &platform.WebhookMessage{
		EventType:  platform.EventProductUpdated,
		EventID:    "evt-1",
		ShopDomain: "someone-else.myshopify.com",
	}

	status, err := env.webhook.Ingest(context.Background(), models.PlatformShopify, []byte("{}"), http.Header{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, syncerr.KindNotFound, syncerr.KindOf(err))
}

func TestIngestDropsDisabledConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	require.NoError(t, env.connRepo.SetEnabled(ctx, conn.ID, false))
	env.adapters[models.PlatformShopify].parseMsg = &platform.WebhookMessage{
		EventType:  platform.EventProductUpdated,
		EventID:    "evt-1",
		ShopDomain: "demo.myshopify.com",
	}

	status, err := env.webhook.Ingest(ctx, models.PlatformShopify, []byte("{}"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	var events int64
	env.db.Model(&models.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)
}

func TestIngestPersistsAndEnqueuesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].parseMsg = &platform.WebhookMessage{
		EventType:         platform.EventProductUpdated,
		EventID:           "evt-1",
		ShopDomain:        "demo.myshopify.com",
		PlatformProductID: "101",
	}

	status, err := env.webhook.Ingest(ctx, models.PlatformShopify, []byte("{}"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	// Redelivery of the same event id ACKs without a second row or job.
	status, err = env.webhook.Ingest(ctx, models.PlatformShopify, []byte("{}"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	var events []models.WebhookEvent
	require.NoError(t, env.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, conn.ID, events[0].PlatformConnectionID)
	assert.Equal(t, "SHOPIFY-evt-1", events[0].IdempotencyKey)

	var jobs []models.SyncQueueJob
	require.NoError(t, env.db.Where("queue_name = ?", models.QueueWebhooks).Find(&jobs).Error)
	assert.Len(t, jobs, 1)
}

func TestIngestRetryAfterStorageFailurePersists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].parseMsg = &platform.WebhookMessage{
		EventType:         platform.EventProductUpdated,
		EventID:           "evt-1",
		ShopDomain:        "demo.myshopify.com",
		PlatformProductID: "101",
	}

	// The first delivery hits a storage outage; it must answer 500, not be
	// remembered as seen.
	require.NoError(t, env.db.Migrator().RenameTable("webhook_events", "webhook_events_gone"))
	status, err := env.webhook.Ingest(ctx, models.PlatformShopify, []byte("{}"), http.Header{})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	require.NoError(t, env.db.Migrator().RenameTable("webhook_events_gone", "webhook_events"))

	// The platform's retry of the same event id lands after the outage.
	status, err = env.webhook.Ingest(ctx, models.PlatformShopify, []byte("{}"), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	var events int64
	env.db.Model(&models.WebhookEvent{}).Count(&events)
	assert.Equal(t, int64(1), events)
	var jobs int64
	env.db.Model(&models.SyncQueueJob{}).Where("queue_name = ?", models.QueueWebhooks).Count(&jobs)
	assert.Equal(t, int64(1), jobs)
}

func TestHandleEventProductUpsertCreatesCanonicalAndFansOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].byID = map[string]platform.Product{
		"101": {
			ID:    "101",
			Title: "Linen Shirt",
			Variants: []platform.Variant{{
				ID: "201", ProductID: "101", Title: "Small", SKU: "SHIRT-S",
				Price:   decimalFrom(t, "29.99"),
				Options: map[string]string{"Size": "S"},
			}},
		},
	}

	job := env.insertEvent(t, conn, webhookEventPayload{
		EventType:         string(platform.EventProductUpdated),
		EventID:           "evt-1",
		PlatformProductID: "101",
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, job))

	productID := deterministicID("u1", models.PlatformShopify, "product:101")
	product, err := env.productRepo.GetProduct(ctx, productID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Linen Shirt", product.Title)
	require.Len(t, product.Variants, 1)

	m, err := env.mappingRepo.GetByPlatformVariant(ctx, conn.ID, "201")
	require.NoError(t, err)
	assert.Equal(t, product.Variants[0].ID, m.ProductVariantID)

	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event).Error)
	assert.Equal(t, models.WebhookProcessed, event.Status)

	// The change fans out as a create push with the origin suppressed.
	jobs := env.pushJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobProductCreate, jobs[0].JobType)
	var payload PushJobPayload
	require.NoError(t, decodePayload(jobs[0].Payload, &payload))
	require.NotNil(t, payload.OriginConnectionID)
	assert.Equal(t, conn.ID, *payload.OriginConnectionID)
}

func TestHandleEventProductUpsertIdenticalDataIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].byID = map[string]platform.Product{
		"101": {
			ID:    "101",
			Title: "Linen Shirt",
			Variants: []platform.Variant{{
				ID: "201", ProductID: "101", Title: "Small", SKU: "SHIRT-S",
				Price:   decimalFrom(t, "29.99"),
				Options: map[string]string{"Size": "S"},
			}},
		},
	}

	first := env.insertEvent(t, conn, webhookEventPayload{
		EventType:         string(platform.EventProductUpdated),
		EventID:           "evt-1",
		PlatformProductID: "101",
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, first))
	require.Len(t, env.pushJobs(t), 1)

	// Retire the first fan-out so a second enqueue would be visible.
	require.NoError(t, env.db.Model(&models.SyncQueueJob{}).
		Where("queue_name = ?", models.QueuePushOperations).
		Update("status", models.JobCompleted).Error)

	second := env.insertEvent(t, conn, webhookEventPayload{
		EventType:         string(platform.EventProductUpdated),
		EventID:           "evt-2",
		PlatformProductID: "101",
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, second))

	// Identical platform data: no canonical write, no new fan-out.
	assert.Len(t, env.pushJobs(t), 1)
}

func TestHandleEventProductDeleteArchivesAndDropsMappings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	square := env.newConnection(t, models.PlatformSquare, models.ConnectionSyncing)
	product := env.seedProduct(t, nil, "SHIRT-S")
	env.mapVariant(t, conn, product.Variants[0], "101", "201")
	env.mapVariant(t, square, product.Variants[0], "sq-1", "sq-v1")

	job := env.insertEvent(t, conn, webhookEventPayload{
		EventType:         string(platform.EventProductDeleted),
		EventID:           "evt-1",
		PlatformProductID: "101",
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, job))

	reloaded, err := env.productRepo.GetProduct(ctx, product.ID, "u1")
	require.NoError(t, err)
	assert.True(t, reloaded.IsArchived)

	// Only the origin's mappings go; the other platform keeps its listing and
	// no delete is fanned out.
	_, err = env.mappingRepo.GetByVariant(ctx, conn.ID, product.Variants[0].ID)
	assert.Error(t, err)
	_, err = env.mappingRepo.GetByVariant(ctx, square.ID, product.Variants[0].ID)
	assert.NoError(t, err)
	assert.Empty(t, env.pushJobs(t))
}

func TestHandleEventInventoryChangeMirrorsAndFansOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shopify := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	square := env.newConnection(t, models.PlatformSquare, models.ConnectionSyncing)
	product := env.seedProduct(t, shopify, "SHIRT-S")
	variant := product.Variants[0]
	env.mapVariant(t, shopify, variant, "101", "201")
	env.mapVariant(t, square, variant, "sq-1", "sq-v1")
	require.NoError(t, env.inventoryRepo.BatchUpsert(ctx, []models.InventoryLevel{{
		ProductVariantID:     variant.ID,
		PlatformConnectionID: square.ID,
		PlatformLocationID:   "sq-loc",
		Quantity:             5,
	}}))

	nine := 9
	job := env.insertEvent(t, shopify, webhookEventPayload{
		EventType:         string(platform.EventInventoryChanged),
		EventID:           "evt-1",
		PlatformVariantID: "201",
		LocationID:        "loc-1",
		Quantity:          &nine,
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, job))

	origin, err := env.inventoryRepo.Get(ctx, variant.ID, shopify.ID, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, 9, origin.Quantity)

	// The sibling connection's level mirrors the fresh quantity so the fan-out
	// pushes the new value.
	mirrored, err := env.inventoryRepo.Get(ctx, variant.ID, square.ID, "sq-loc")
	require.NoError(t, err)
	assert.Equal(t, 9, mirrored.Quantity)

	jobs := env.pushJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobInventoryUpdate, jobs[0].JobType)
	var payload PushJobPayload
	require.NoError(t, decodePayload(jobs[0].Payload, &payload))
	require.NotNil(t, payload.OriginConnectionID)
	assert.Equal(t, shopify.ID, *payload.OriginConnectionID)
}

func TestHandleEventInventoryChangeIdenticalQuantityIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shopify := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	product := env.seedProduct(t, shopify, "SHIRT-S")
	variant := product.Variants[0]
	env.mapVariant(t, shopify, variant, "101", "201")

	five := 5
	job := env.insertEvent(t, shopify, webhookEventPayload{
		EventType:         string(platform.EventInventoryChanged),
		EventID:           "evt-1",
		PlatformVariantID: "201",
		LocationID:        "loc-1",
		Quantity:          &five,
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, job))

	assert.Empty(t, env.pushJobs(t))
	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event).Error)
	assert.Equal(t, models.WebhookProcessed, event.Status)
}

func TestHandleEventInventoryChangeUnmappedVariantIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shopify := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)

	three := 3
	job := env.insertEvent(t, shopify, webhookEventPayload{
		EventType:         string(platform.EventInventoryChanged),
		EventID:           "evt-1",
		PlatformVariantID: "nope",
		LocationID:        "loc-1",
		Quantity:          &three,
	})
	require.NoError(t, env.webhook.HandleEvent(ctx, job))

	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event).Error)
	assert.Equal(t, models.WebhookSkipped, event.Status)
}

func TestHandleEventFailureMarksEventFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.adapters[models.PlatformShopify].fetchByErr = syncerr.New(syncerr.KindPlatformTransient, "shopify 503")

	job := env.insertEvent(t, conn, webhookEventPayload{
		EventType:         string(platform.EventProductUpdated),
		EventID:           "evt-1",
		PlatformProductID: "101",
	})
	err := env.webhook.HandleEvent(ctx, job)
	require.Error(t, err)
	assert.True(t, syncerr.Retryable(err))

	var event models.WebhookEvent
	require.NoError(t, env.db.First(&event).Error)
	assert.Equal(t, models.WebhookFailed, event.Status)
	require.NotNil(t, event.ErrorMessage)
	assert.Contains(t, *event.ErrorMessage, "shopify 503")
}
