package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/syncerr"
)

func shirtSnapshot(t *testing.T) *platform.Snapshot {
	t.Helper()
	return &platform.Snapshot{
		Products: []platform.Product{{
			ID:    "101",
			Title: "Linen Shirt",
			Variants: []platform.Variant{
				{
					ID: "201", ProductID: "101", Title: "Small", SKU: "SHIRT-S",
					Price:   decimalFrom(t, "29.99"),
					Options: map[string]string{"Size": "S"},
					Levels:  []platform.LevelReading{{LocationID: "loc-1", Quantity: 7}},
				},
				{
					ID: "202", ProductID: "101", Title: "Medium", SKU: "SHIRT-M",
					Price:   decimalFrom(t, "29.99"),
					Options: map[string]string{"Size": "M"},
					Levels:  []platform.LevelReading{{LocationID: "loc-1", Quantity: 3}},
				},
			},
		}},
		Locations: []platform.Location{{ID: "loc-1", Name: "Main"}},
	}
}

func TestHandleInitialScanPersistsCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionConnecting)
	env.adapters[models.PlatformShopify].snapshot = shirtSnapshot(t)

	job := env.jobFor(t, models.QueueInitialScan, "initial-scan", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	require.NoError(t, env.scan.HandleInitialScan(ctx, job))

	assert.Equal(t, models.ConnectionNeedsReview, env.reloadConnection(t, conn.ID).Status)

	// Scan ids derive from the platform ids, so the rows land under stable keys.
	productID := deterministicID("u1", models.PlatformShopify, "product:101")
	product, err := env.productRepo.GetProduct(ctx, productID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Linen Shirt", product.Title)
	require.Len(t, product.Variants, 2)

	smallID := deterministicID("u1", models.PlatformShopify, "variant:201")
	level, err := env.inventoryRepo.Get(ctx, smallID, conn.ID, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, 7, level.Quantity)

	summary, err := env.connections.ScanSummary(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CountProducts)
	assert.Equal(t, 2, summary.CountVariants)
	assert.Equal(t, 1, summary.CountLocations)

	// Scanned variants match themselves on SKU, so review starts populated.
	suggestions, err := env.connections.MappingSuggestions(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, suggestions)
}

func TestHandleInitialScanIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionConnecting)
	env.adapters[models.PlatformShopify].snapshot = shirtSnapshot(t)

	job := env.jobFor(t, models.QueueInitialScan, "initial-scan", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	require.NoError(t, env.scan.HandleInitialScan(ctx, job))
	// NEEDS_REVIEW re-enters SCANNING, e.g. after a queue redelivery.
	job2 := env.jobFor(t, models.QueueInitialScan, "initial-scan", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	require.NoError(t, env.scan.HandleInitialScan(ctx, job2))

	var productCount, variantCount, levelCount int64
	env.db.Model(&models.Product{}).Count(&productCount)
	env.db.Model(&models.ProductVariant{}).Count(&variantCount)
	env.db.Model(&models.InventoryLevel{}).Count(&levelCount)
	assert.Equal(t, int64(1), productCount)
	assert.Equal(t, int64(2), variantCount)
	assert.Equal(t, int64(2), levelCount)
}

func TestHandleInitialScanMergesOnSKU(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformSquare, models.ConnectionConnecting)

	// The user already carries a canonical variant under this SKU.
	existing := env.seedProduct(t, nil, "SHIRT-S")
	env.adapters[models.PlatformSquare].snapshot = &platform.Snapshot{
		Products: []platform.Product{{
			ID:    "sq-1",
			Title: "Shirt",
			Variants: []platform.Variant{{
				ID: "sq-v1", ProductID: "sq-1", Title: "Shirt", SKU: "SHIRT-S",
				Price:  decimalFrom(t, "29.99"),
				Levels: []platform.LevelReading{{LocationID: "loc-1", Quantity: 4}},
			}},
		}},
	}

	job := env.jobFor(t, models.QueueInitialScan, "initial-scan", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	require.NoError(t, env.scan.HandleInitialScan(ctx, job))

	// The SKU collides, so the level lands on the pre-existing variant row
	// instead of a duplicate.
	var variantCount int64
	env.db.Model(&models.ProductVariant{}).Count(&variantCount)
	assert.Equal(t, int64(1), variantCount)

	level, err := env.inventoryRepo.Get(ctx, existing.Variants[0].ID, conn.ID, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, 4, level.Quantity)
}

func TestHandleInitialScanEmptyCatalog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformClover, models.ConnectionConnecting)
	env.adapters[models.PlatformClover].snapshot = &platform.Snapshot{}

	job := env.jobFor(t, models.QueueInitialScan, "initial-scan", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	require.NoError(t, env.scan.HandleInitialScan(ctx, job))

	assert.Equal(t, models.ConnectionNeedsReview, env.reloadConnection(t, conn.ID).Status)
	summary, err := env.connections.ScanSummary(ctx, "u1", conn.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.CountProducts)
	assert.Equal(t, 0, summary.CountLocations)
}

func TestHandleInitialScanFailureFlipsConnectionToError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionConnecting)
	env.adapters[models.PlatformShopify].fetchErr = syncerr.New(syncerr.KindPlatformTransient, "shopify 503")

	job := env.jobFor(t, models.QueueInitialScan, "initial-scan", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	err := env.scan.HandleInitialScan(ctx, job)
	require.Error(t, err)
	assert.True(t, syncerr.Retryable(err))

	reloaded := env.reloadConnection(t, conn.ID)
	assert.Equal(t, models.ConnectionError, reloaded.Status)
	assert.Contains(t, reloaded.LastError, "shopify 503")
}

func TestHandleReconciliationRefreshesSuggestionsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conn := env.newConnection(t, models.PlatformShopify, models.ConnectionSyncing)
	env.seedProduct(t, conn, "SHIRT-S")
	env.adapters[models.PlatformShopify].snapshot = &platform.Snapshot{
		Products: []platform.Product{{
			ID:    "101",
			Title: "Shirt",
			Variants: []platform.Variant{{
				ID: "201", ProductID: "101", Title: "Shirt", SKU: "SHIRT-S",
				Price: decimalFrom(t, "29.99"),
			}},
		}},
	}

	var variantsBefore int64
	env.db.Model(&models.ProductVariant{}).Count(&variantsBefore)

	job := env.jobFor(t, models.QueueReconciliation, "reconciliation", ScanJobPayload{ConnectionID: conn.ID, UserID: "u1"})
	require.NoError(t, env.scan.HandleReconciliation(ctx, job))

	reloaded := env.reloadConnection(t, conn.ID)
	assert.Equal(t, models.ConnectionNeedsReview, reloaded.Status)
	assert.NotEmpty(t, reloaded.PlatformData[models.DataKeyLastReconciliationAt])

	suggestions, err := env.connections.MappingSuggestions(ctx, "u1", conn.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "sku", suggestions[0].MatchedOn)

	// Reconciliation never writes canonical rows.
	var variantsAfter int64
	env.db.Model(&models.ProductVariant{}).Count(&variantsAfter)
	assert.Equal(t, variantsBefore, variantsAfter)
}
