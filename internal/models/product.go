package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the canonical product owned by one user. Platform-facing fields
// live on ProductVariant; Product is the grouping unit.
type Product struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"type:varchar(255);not null;index:idx_products_user" json:"userId"`
	Title       string    `gorm:"type:varchar(500);not null" json:"title"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	IsArchived  bool      `gorm:"default:false;index:idx_products_archived" json:"isArchived"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Variants []ProductVariant `gorm:"foreignKey:ProductID" json:"variants,omitempty"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "products"
}

// ProductVariant is the sellable unit and the anchor for mappings and
// inventory. SKU is unique per user when present; SKU-less variants are
// allowed and matched by mapping only.
type ProductVariant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index:idx_variants_product" json:"productId"`
	UserID    string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_variants_user_sku" json:"userId"`

	SKU     *string `gorm:"type:varchar(255);uniqueIndex:idx_variants_user_sku" json:"sku,omitempty"`
	Barcode *string `gorm:"type:varchar(255)" json:"barcode,omitempty"`

	Title       string  `gorm:"type:varchar(500);not null" json:"title"`
	Description *string `gorm:"type:text" json:"description,omitempty"`

	Price          decimal.Decimal  `gorm:"type:decimal(12,2);not null" json:"price"`
	CompareAtPrice *decimal.Decimal `gorm:"type:decimal(12,2)" json:"compareAtPrice,omitempty"`
	Cost           *decimal.Decimal `gorm:"type:decimal(12,2)" json:"cost,omitempty"`

	Weight     *float64 `json:"weight,omitempty"`
	WeightUnit string   `gorm:"type:varchar(20)" json:"weightUnit,omitempty"`

	// Option name -> value, e.g. {"Size":"M","Color":"Blue"}.
	Options JSONB `gorm:"type:jsonb;default:'{}'" json:"options,omitempty"`

	IsTaxable        bool    `gorm:"default:true" json:"isTaxable"`
	TaxCode          *string `gorm:"type:varchar(100)" json:"taxCode,omitempty"`
	RequiresShipping bool    `gorm:"default:true" json:"requiresShipping"`

	// Weak reference to one of the variant's images.
	ImageID *uuid.UUID `gorm:"type:uuid" json:"imageId,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Images []ProductImage `gorm:"foreignKey:ProductVariantID" json:"images,omitempty"`
}

// TableName specifies the table name for ProductVariant
func (ProductVariant) TableName() string {
	return "product_variants"
}

// OptionValues returns the variant options as a plain string map.
func (v *ProductVariant) OptionValues() map[string]string {
	out := make(map[string]string, len(v.Options))
	for k, val := range v.Options {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// ProductImage is an ordered image attached to a variant. Position is unique
// per variant.
type ProductImage struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductVariantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_images_variant_position" json:"productVariantId"`
	ImageURL         string    `gorm:"type:text;not null" json:"imageUrl"`
	Position         int       `gorm:"not null;uniqueIndex:idx_images_variant_position" json:"position"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
}

// TableName specifies the table name for ProductImage
func (ProductImage) TableName() string {
	return "product_images"
}
