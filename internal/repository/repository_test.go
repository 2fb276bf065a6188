package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"catalog-sync-service/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(0)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	tables := []interface{}{
		&models.PlatformConnection{},
		&models.Product{},
		&models.ProductVariant{},
		&models.ProductImage{},
		&models.PlatformProductMapping{},
		&models.InventoryLevel{},
		&models.SyncQueueJob{},
		&models.WebhookEvent{},
		&models.ActivityLog{},
	}
	require.NoError(t, db.AutoMigrate(tables...))
	for _, m := range tables {
		stmt := &gorm.Statement{DB: db}
		require.NoError(t, stmt.Parse(m))
		db.Exec("DELETE FROM " + stmt.Schema.Table)
	}
	return db
}

func testConnection(t *testing.T, db *gorm.DB, status models.ConnectionStatus) *models.PlatformConnection {
	t.Helper()
	conn := &models.PlatformConnection{
		ID:           uuid.New(),
		UserID:       "u1",
		PlatformType: models.PlatformShopify,
		DisplayName:  "Test Store",
		Status:       status,
		IsEnabled:    true,
		PlatformData: models.JSONB{models.DataKeyShop: "demo.myshopify.com"},
	}
	require.NoError(t, NewConnectionRepository(db).Create(context.Background(), conn))
	return conn
}

func testVariant(t *testing.T, db *gorm.DB, productID uuid.UUID, sku string) models.ProductVariant {
	t.Helper()
	v := models.ProductVariant{
		ID:        uuid.New(),
		ProductID: productID,
		UserID:    "u1",
		Title:     "Variant",
		Price:     decimal.NewFromFloat(10),
		Options:   models.JSONB{},
	}
	if sku != "" {
		v.SKU = &sku
	}
	require.NoError(t, NewProductRepository(db).BatchUpsertVariants(context.Background(), []models.ProductVariant{v}))
	return v
}
