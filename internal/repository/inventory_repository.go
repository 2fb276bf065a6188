package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-sync-service/internal/models"
)

// InventoryRepository handles database operations for inventory levels
type InventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// BatchUpsert writes levels on the
// (product_variant_id, platform_connection_id, platform_location_id) key.
func (r *InventoryRepository) BatchUpsert(ctx context.Context, levels []models.InventoryLevel) error {
	if len(levels) == 0 {
		return nil
	}
	for i := range levels {
		if levels[i].ID == uuid.Nil {
			levels[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "product_variant_id"},
			{Name: "platform_connection_id"},
			{Name: "platform_location_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "last_platform_update_at", "updated_at"}),
	}).Create(&levels).Error
}

// ListByVariant returns every level for a variant across connections.
func (r *InventoryRepository) ListByVariant(ctx context.Context, variantID uuid.UUID) ([]models.InventoryLevel, error) {
	var levels []models.InventoryLevel
	err := r.db.WithContext(ctx).
		Where("product_variant_id = ?", variantID).
		Find(&levels).Error
	return levels, err
}

// ListByVariants returns levels for a set of variants, optionally filtered to
// one connection.
func (r *InventoryRepository) ListByVariants(ctx context.Context, variantIDs []uuid.UUID, connectionID *uuid.UUID) ([]models.InventoryLevel, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}
	query := r.db.WithContext(ctx).Where("product_variant_id IN ?", variantIDs)
	if connectionID != nil {
		query = query.Where("platform_connection_id = ?", *connectionID)
	}
	var levels []models.InventoryLevel
	err := query.Find(&levels).Error
	return levels, err
}

// Get returns the level row for one (variant, connection, location) triple.
func (r *InventoryRepository) Get(ctx context.Context, variantID, connectionID uuid.UUID, locationID string) (*models.InventoryLevel, error) {
	var level models.InventoryLevel
	err := r.db.WithContext(ctx).
		Where("product_variant_id = ? AND platform_connection_id = ? AND platform_location_id = ?",
			variantID, connectionID, locationID).
		First(&level).Error
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// DeleteByConnection removes all levels recorded through a connection.
func (r *InventoryRepository) DeleteByConnection(ctx context.Context, connectionID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.InventoryLevel{}, "platform_connection_id = ?", connectionID).Error
}
