package mapping

import (
	"time"

	"github.com/shopspring/decimal"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
)

// Temporary ids cross-link the three draft lists during a scan. They exist
// only in memory; the scan processor swaps them for real ids before persisting
// anything that references them.

// TempProductID builds the temporary id for a platform product.
func TempProductID(platformID string) string {
	return "temp-product-" + platformID
}

// TempVariantID builds the temporary id for a platform variant.
func TempVariantID(platformID string) string {
	return "temp-variant-" + platformID
}

// CanonicalBatch is the platform->canonical translation of one snapshot:
// three parallel draft lists linked by temporary ids, plus per-variant images.
type CanonicalBatch struct {
	Products []ProductDraft
	Variants []VariantDraft
	Levels   []LevelDraft
}

// ProductDraft is a product awaiting persistence.
type ProductDraft struct {
	TempID      string
	Title       string
	Description *string
}

// VariantDraft is a variant awaiting persistence, still pointing at its
// parent by temporary id.
type VariantDraft struct {
	TempID        string
	TempProductID string

	// PlatformVariantID is kept so mapping rows can be written after
	// persistence resolves real ids.
	PlatformVariantID string
	PlatformProductID string

	SKU     *string
	Barcode *string

	Title       string
	Description *string

	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	Cost           *decimal.Decimal

	Weight     *float64
	WeightUnit string

	Options          map[string]string
	Taxable          bool
	RequiresShipping bool

	ImageURLs []string
}

// LevelDraft is an inventory level awaiting persistence.
type LevelDraft struct {
	TempVariantID string
	LocationID    string
	Quantity      int
	UpdatedAt     *time.Time
}

// ToCanonical translates a platform snapshot into canonical drafts. Pure:
// no I/O, no ids beyond the temporary scheme.
func ToCanonical(platformType models.PlatformType, products []platform.Product) *CanonicalBatch {
	batch := &CanonicalBatch{}

	for _, p := range products {
		tempProductID := TempProductID(p.ID)

		draft := ProductDraft{
			TempID: tempProductID,
			Title:  p.Title,
		}
		if p.Description != "" {
			desc := p.Description
			draft.Description = &desc
		}
		batch.Products = append(batch.Products, draft)

		productImages := make([]string, 0, len(p.Images))
		for _, img := range p.Images {
			productImages = append(productImages, img.Src)
		}

		for _, v := range p.Variants {
			tempVariantID := TempVariantID(v.ID)

			variant := VariantDraft{
				TempID:            tempVariantID,
				TempProductID:     tempProductID,
				PlatformVariantID: v.ID,
				PlatformProductID: p.ID,
				Title:             variantTitle(platformType, p, v),
				Price:             v.Price,
				CompareAtPrice:    v.CompareAtPrice,
				Cost:              v.Cost,
				Weight:            v.Weight,
				WeightUnit:        v.WeightUnit,
				Taxable:           v.Taxable,
				RequiresShipping:  v.RequiresShipping,
				Options:           cleanOptions(v.Options),
			}
			if v.SKU != "" {
				sku := v.SKU
				variant.SKU = &sku
			}
			if v.Barcode != "" {
				barcode := v.Barcode
				variant.Barcode = &barcode
			}
			if v.ImageURL != "" {
				variant.ImageURLs = []string{v.ImageURL}
			} else {
				variant.ImageURLs = productImages
			}
			batch.Variants = append(batch.Variants, variant)

			for _, lvl := range v.Levels {
				batch.Levels = append(batch.Levels, LevelDraft{
					TempVariantID: tempVariantID,
					LocationID:    lvl.LocationID,
					Quantity:      lvl.Quantity,
					UpdatedAt:     lvl.UpdatedAt,
				})
			}
		}
	}

	return batch
}

// variantTitle applies the per-platform title rule: Shopify's synthetic
// "Default Title" is replaced with the product title; other platforms keep
// the variant name.
func variantTitle(platformType models.PlatformType, p platform.Product, v platform.Variant) string {
	if platformType == models.PlatformShopify && v.Title == "Default Title" {
		return p.Title
	}
	if v.Title == "" {
		return p.Title
	}
	return v.Title
}

func cleanOptions(options map[string]string) map[string]string {
	out := make(map[string]string, len(options))
	for k, v := range options {
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
