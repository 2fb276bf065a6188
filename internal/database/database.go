package database

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/models"
)

// Connect opens the postgres connection, applies pool settings, and runs
// auto-migration for all models.
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database connected",
		zap.String("host", cfg.Host),
		zap.String("dbname", cfg.DBName))
	return db, nil
}

// Migrate runs gorm auto-migration for every model. Also used by tests
// against sqlite.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PlatformConnection{},
		&models.Product{},
		&models.ProductVariant{},
		&models.ProductImage{},
		&models.InventoryLevel{},
		&models.PlatformProductMapping{},
		&models.ActivityLog{},
		&models.WebhookEvent{},
		&models.SyncQueueJob{},
	)
}

// WaitForConnection pings the database with backoff; used at startup when the
// database may still be coming up.
func WaitForConnection(db *gorm.DB, attempts int, delay time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	for i := 0; i < attempts; i++ {
		if err = sqlDB.Ping(); err == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return err
}
