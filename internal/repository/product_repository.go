package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/syncerr"
)

// ProductRepository handles database operations for products, variants, and
// images
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// BatchUpsertProducts upserts products on their primary key. Scan-created
// products carry deterministic ids, so a re-scan updates in place.
func (r *ProductRepository) BatchUpsertProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "updated_at"}),
	}).Create(&products).Error
}

// BatchUpsertVariants upserts variants. Variants with an SKU conflict on
// (user_id, sku); SKU-less variants carry deterministic ids and conflict on
// the primary key, so the two groups are written separately.
func (r *ProductRepository) BatchUpsertVariants(ctx context.Context, variants []models.ProductVariant) error {
	var withSKU, withoutSKU []models.ProductVariant
	for _, v := range variants {
		if v.SKU != nil && *v.SKU != "" {
			withSKU = append(withSKU, v)
		} else {
			withoutSKU = append(withoutSKU, v)
		}
	}

	assignments := clause.AssignmentColumns([]string{
		"product_id", "barcode", "title", "description",
		"price", "compare_at_price", "cost",
		"weight", "weight_unit", "options",
		"is_taxable", "tax_code", "requires_shipping", "updated_at",
	})

	if len(withSKU) > 0 {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "sku"}},
			DoUpdates: assignments,
		}).Create(&withSKU).Error
		if err != nil {
			return err
		}
	}
	if len(withoutSKU) > 0 {
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: assignments,
		}).Create(&withoutSKU).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// GetProduct loads a product with its variants, enforcing ownership.
func (r *ProductRepository) GetProduct(ctx context.Context, id uuid.UUID, userID string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Preload("Variants").First(&product, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, syncerr.New(syncerr.KindNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if product.UserID != userID {
		return nil, syncerr.New(syncerr.KindAuthorization, "product %s does not belong to user", id)
	}
	return &product, nil
}

// GetVariant loads a variant, enforcing ownership.
func (r *ProductRepository) GetVariant(ctx context.Context, id uuid.UUID, userID string) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).First(&variant, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, syncerr.New(syncerr.KindNotFound, "variant %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if variant.UserID != userID {
		return nil, syncerr.New(syncerr.KindAuthorization, "variant %s does not belong to user", id)
	}
	return &variant, nil
}

// ListVariantsByUser returns all of a user's variants.
func (r *ProductRepository) ListVariantsByUser(ctx context.Context, userID string) ([]models.ProductVariant, error) {
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&variants).Error
	return variants, err
}

// FindVariantsBySKUs resolves SKUs to variant rows for one user.
func (r *ProductRepository) FindVariantsBySKUs(ctx context.Context, userID string, skus []string) ([]models.ProductVariant, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND sku IN ?", userID, skus).
		Find(&variants).Error
	return variants, err
}

// FindVariantsByIDs loads a set of variants by id.
func (r *ProductRepository) FindVariantsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ProductVariant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var variants []models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&variants).Error
	return variants, err
}

// UpsertImages replaces the image rows for each variant in one batch, keyed
// on (product_variant_id, position). Best-effort callers tolerate failure.
func (r *ProductRepository) UpsertImages(ctx context.Context, images []models.ProductImage) error {
	if len(images) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_variant_id"}, {Name: "position"}},
		DoUpdates: clause.AssignmentColumns([]string{"image_url"}),
	}).Create(&images).Error
}

// ListImagesByVariants returns image rows grouped by variant id.
func (r *ProductRepository) ListImagesByVariants(ctx context.Context, variantIDs []uuid.UUID) (map[string][]models.ProductImage, error) {
	out := make(map[string][]models.ProductImage)
	if len(variantIDs) == 0 {
		return out, nil
	}
	var images []models.ProductImage
	err := r.db.WithContext(ctx).
		Where("product_variant_id IN ?", variantIDs).
		Order("position asc").
		Find(&images).Error
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		key := img.ProductVariantID.String()
		out[key] = append(out[key], img)
	}
	return out, nil
}

// SetArchived flips the product's archive flag.
func (r *ProductRepository) SetArchived(ctx context.Context, id uuid.UUID, userID string, archived bool) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{
			"is_archived": archived,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return syncerr.New(syncerr.KindNotFound, "product %s not found for user", id)
	}
	return nil
}

// DeleteProduct removes a product and everything hanging off it: variants,
// their images, and their inventory levels. Mappings are the push-deletion
// path's responsibility.
func (r *ProductRepository) DeleteProduct(ctx context.Context, id uuid.UUID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.First(&product, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return syncerr.New(syncerr.KindNotFound, "product %s not found", id)
			}
			return err
		}
		if product.UserID != userID {
			return syncerr.New(syncerr.KindAuthorization, "product %s does not belong to user", id)
		}

		var variantIDs []uuid.UUID
		if err := tx.Model(&models.ProductVariant{}).
			Where("product_id = ?", id).
			Pluck("id", &variantIDs).Error; err != nil {
			return err
		}

		if len(variantIDs) > 0 {
			if err := tx.Delete(&models.ProductImage{}, "product_variant_id IN ?", variantIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.InventoryLevel{}, "product_variant_id IN ?", variantIDs).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.ProductVariant{}, "id IN ?", variantIDs).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Product{}, "id = ?", id).Error
	})
}
