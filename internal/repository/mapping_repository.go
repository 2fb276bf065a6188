package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-sync-service/internal/models"
)

// MappingRepository handles database operations for platform product mappings
type MappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository creates a new mapping repository
func NewMappingRepository(db *gorm.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// Upsert writes a mapping on the (platform_connection_id, product_variant_id)
// key.
func (r *MappingRepository) Upsert(ctx context.Context, mapping *models.PlatformProductMapping) error {
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform_connection_id"}, {Name: "product_variant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"platform_product_id", "platform_variant_id", "platform_sku", "sync_status", "sync_error_message", "last_synced_at", "updated_at"}),
	}).Create(mapping).Error
}

// GetByVariant returns the mapping for one variant on one connection.
func (r *MappingRepository) GetByVariant(ctx context.Context, connectionID, variantID uuid.UUID) (*models.PlatformProductMapping, error) {
	var mapping models.PlatformProductMapping
	err := r.db.WithContext(ctx).
		Where("platform_connection_id = ? AND product_variant_id = ?", connectionID, variantID).
		First(&mapping).Error
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// GetByPlatformVariant resolves a platform variant id back to its mapping.
func (r *MappingRepository) GetByPlatformVariant(ctx context.Context, connectionID uuid.UUID, platformVariantID string) (*models.PlatformProductMapping, error) {
	var mapping models.PlatformProductMapping
	err := r.db.WithContext(ctx).
		Where("platform_connection_id = ? AND platform_variant_id = ?", connectionID, platformVariantID).
		First(&mapping).Error
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// ListByPlatformProduct returns every mapping row carrying one platform
// product id on one connection.
func (r *MappingRepository) ListByPlatformProduct(ctx context.Context, connectionID uuid.UUID, platformProductID string) ([]models.PlatformProductMapping, error) {
	var mappings []models.PlatformProductMapping
	err := r.db.WithContext(ctx).
		Where("platform_connection_id = ? AND platform_product_id = ?", connectionID, platformProductID).
		Find(&mappings).Error
	return mappings, err
}

// ListByVariants returns all mappings for a set of variants on one connection.
func (r *MappingRepository) ListByVariants(ctx context.Context, connectionID uuid.UUID, variantIDs []uuid.UUID) ([]models.PlatformProductMapping, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}
	var mappings []models.PlatformProductMapping
	err := r.db.WithContext(ctx).
		Where("platform_connection_id = ? AND product_variant_id IN ?", connectionID, variantIDs).
		Find(&mappings).Error
	return mappings, err
}

// ListByVariantAcrossConnections returns every connection's mapping for one
// variant.
func (r *MappingRepository) ListByVariantAcrossConnections(ctx context.Context, variantID uuid.UUID) ([]models.PlatformProductMapping, error) {
	var mappings []models.PlatformProductMapping
	err := r.db.WithContext(ctx).
		Where("product_variant_id = ?", variantID).
		Find(&mappings).Error
	return mappings, err
}

// MarkSynced stamps a successful push on the mapping row.
func (r *MappingRepository) MarkSynced(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PlatformProductMapping{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":        models.MappingSyncSuccess,
			"sync_error_message": nil,
			"last_synced_at":     now,
			"updated_at":         now,
		}).Error
}

// MarkError records a push failure on the mapping row.
func (r *MappingRepository) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	return r.db.WithContext(ctx).Model(&models.PlatformProductMapping{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":        models.MappingSyncError,
			"sync_error_message": message,
			"updated_at":         time.Now(),
		}).Error
}

// Delete removes one mapping row.
func (r *MappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PlatformProductMapping{}, "id = ?", id).Error
}

// DeleteByConnection removes every mapping on a connection (disconnect path).
func (r *MappingRepository) DeleteByConnection(ctx context.Context, connectionID uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PlatformProductMapping{}, "platform_connection_id = ?", connectionID).Error
}

// DeleteByVariants removes mappings for a set of variants on one connection.
func (r *MappingRepository) DeleteByVariants(ctx context.Context, connectionID uuid.UUID, variantIDs []uuid.UUID) error {
	if len(variantIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Delete(&models.PlatformProductMapping{}, "platform_connection_id = ? AND product_variant_id IN ?", connectionID, variantIDs).Error
}
