package mapping

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
)

func TestToCanonicalBasics(t *testing.T) {
	now := time.Now()
	products := []platform.Product{
		{
			ID:          "p1",
			Title:       "Linen Shirt",
			Description: "Breathable.",
			Images:      []platform.Image{{ID: "i1", Src: "https://cdn/p1.jpg", Position: 1}},
			Variants: []platform.Variant{
				{
					ID:        "v1",
					ProductID: "p1",
					Title:     "Small",
					SKU:       "SHIRT-S",
					Barcode:   "123456",
					Price:     decimal.NewFromFloat(29.99),
					Options:   map[string]string{"Size": "S"},
					Taxable:   true,
					Levels: []platform.LevelReading{
						{LocationID: "loc1", Quantity: 4, UpdatedAt: &now},
					},
				},
				{
					ID:        "v2",
					ProductID: "p1",
					Title:     "Medium",
					Price:     decimal.NewFromFloat(29.99),
					Options:   map[string]string{"Size": "M"},
					ImageURL:  "https://cdn/v2.jpg",
				},
			},
		},
	}

	batch := ToCanonical(models.PlatformShopify, products)

	require.Len(t, batch.Products, 1)
	assert.Equal(t, TempProductID("p1"), batch.Products[0].TempID)
	assert.Equal(t, "Linen Shirt", batch.Products[0].Title)
	require.NotNil(t, batch.Products[0].Description)
	assert.Equal(t, "Breathable.", *batch.Products[0].Description)

	require.Len(t, batch.Variants, 2)
	v1 := batch.Variants[0]
	assert.Equal(t, TempVariantID("v1"), v1.TempID)
	assert.Equal(t, TempProductID("p1"), v1.TempProductID)
	assert.Equal(t, "v1", v1.PlatformVariantID)
	assert.Equal(t, "p1", v1.PlatformProductID)
	require.NotNil(t, v1.SKU)
	assert.Equal(t, "SHIRT-S", *v1.SKU)
	require.NotNil(t, v1.Barcode)
	assert.Equal(t, "123456", *v1.Barcode)
	// SKU-less variant keeps a nil SKU rather than an empty string, so the
	// per-user unique index is not violated.
	assert.Nil(t, batch.Variants[1].SKU)

	// Variant without its own image inherits the product images.
	assert.Equal(t, []string{"https://cdn/v2.jpg"}, batch.Variants[1].ImageURLs)
	assert.Equal(t, []string{"https://cdn/p1.jpg"}, v1.ImageURLs)

	require.Len(t, batch.Levels, 1)
	assert.Equal(t, TempVariantID("v1"), batch.Levels[0].TempVariantID)
	assert.Equal(t, "loc1", batch.Levels[0].LocationID)
	assert.Equal(t, 4, batch.Levels[0].Quantity)
}

func TestVariantTitleRule(t *testing.T) {
	product := platform.Product{ID: "p1", Title: "Mug"}

	// Shopify's synthetic single-variant title collapses to the product title.
	shopify := ToCanonical(models.PlatformShopify, []platform.Product{{
		ID: "p1", Title: "Mug",
		Variants: []platform.Variant{{ID: "v1", Title: "Default Title"}},
	}})
	assert.Equal(t, "Mug", shopify.Variants[0].Title)

	// Other platforms keep the literal variant name.
	square := ToCanonical(models.PlatformSquare, []platform.Product{{
		ID: "p1", Title: "Mug",
		Variants: []platform.Variant{{ID: "v1", Title: "Default Title"}},
	}})
	assert.Equal(t, "Default Title", square.Variants[0].Title)

	// An empty variant title always falls back to the product title.
	clover := ToCanonical(models.PlatformClover, []platform.Product{{
		ID: product.ID, Title: product.Title,
		Variants: []platform.Variant{{ID: "v1"}},
	}})
	assert.Equal(t, "Mug", clover.Variants[0].Title)
}

func TestToCanonicalDropsEmptyOptionPairs(t *testing.T) {
	batch := ToCanonical(models.PlatformSquare, []platform.Product{{
		ID: "p1", Title: "Hat",
		Variants: []platform.Variant{{
			ID:      "v1",
			Title:   "One Size",
			Options: map[string]string{"Size": "OS", "": "x", "Color": ""},
		}},
	}})
	assert.Equal(t, map[string]string{"Size": "OS"}, batch.Variants[0].Options)
}
