package mapping

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-sync-service/internal/models"
)

func buildProduct() (*models.Product, []models.ProductVariant) {
	productID := uuid.New()
	product := &models.Product{ID: productID, UserID: "u1", Title: "Linen Shirt"}
	variants := []models.ProductVariant{
		{
			ID:        uuid.New(),
			ProductID: productID,
			UserID:    "u1",
			Title:     "Small",
			SKU:       strPtr("SHIRT-S"),
			Price:     decimal.NewFromFloat(29.99),
			Options:   models.JSONB{"Size": "S"},
			IsTaxable: true,
		},
		{
			ID:        uuid.New(),
			ProductID: productID,
			UserID:    "u1",
			Title:     "Medium",
			SKU:       strPtr("SHIRT-M"),
			Price:     decimal.NewFromFloat(29.99),
			Options:   models.JSONB{"Size": "M"},
			IsTaxable: true,
		},
	}
	return product, variants
}

func TestToPlatformInputCreate(t *testing.T) {
	product, variants := buildProduct()

	input, dropped := ToPlatformInput(BuildInput{
		Product:         product,
		Variants:        variants,
		TargetLocations: []string{"loc1"},
		Levels: []models.InventoryLevel{
			{ProductVariantID: variants[0].ID, PlatformLocationID: "loc1", Quantity: 7},
		},
		Create: true,
	})

	assert.Empty(t, dropped)
	assert.Equal(t, "Linen Shirt", input.Title)
	assert.Equal(t, []string{"loc1"}, input.TargetLocations)
	require.Len(t, input.Variants, 2)
	assert.Equal(t, variants[0].ID.String(), input.Variants[0].CanonicalVariantID)
	assert.Equal(t, map[string]int{"loc1": 7}, input.Variants[0].Quantities)
	// Variants without canonical levels still carry a non-nil quantity map so
	// adapters default missing locations to zero.
	assert.NotNil(t, input.Variants[1].Quantities)

	require.Len(t, input.Options, 1)
	assert.Equal(t, "Size", input.Options[0].Name)
	assert.ElementsMatch(t, []string{"S", "M"}, input.Options[0].Values)
}

func TestToPlatformInputCreateDropsSKUless(t *testing.T) {
	product, variants := buildProduct()
	variants[1].SKU = nil

	input, dropped := ToPlatformInput(BuildInput{
		Product:  product,
		Variants: variants,
		Create:   true,
	})

	require.Len(t, input.Variants, 1)
	require.Len(t, dropped, 1)
	assert.Equal(t, variants[1].ID.String(), dropped[0].VariantID)
	assert.Contains(t, dropped[0].Reason, "no SKU")
}

func TestToPlatformInputAllVariantsDropped(t *testing.T) {
	product, variants := buildProduct()
	variants[0].SKU = nil
	variants[1].SKU = nil

	input, dropped := ToPlatformInput(BuildInput{Product: product, Variants: variants, Create: true})

	assert.Empty(t, input.Variants)
	assert.Len(t, dropped, 2)
}

func TestToPlatformInputUpdateKeepsMappedSKUless(t *testing.T) {
	product, variants := buildProduct()
	variants[0].SKU = nil

	input, dropped := ToPlatformInput(BuildInput{
		Product:  product,
		Variants: variants,
		ExistingVariantIDs: map[string]string{
			variants[0].ID.String(): "pv-1",
		},
	})

	// Already-mapped variants survive an update without an SKU; unmapped
	// SKU-less variants do not.
	require.Len(t, input.Variants, 2)
	assert.Empty(t, dropped)
	assert.Equal(t, "pv-1", input.Variants[0].PlatformVariantID)
	assert.Empty(t, input.Variants[1].PlatformVariantID)
}

func TestToPlatformInputSyntheticOption(t *testing.T) {
	productID := uuid.New()
	product := &models.Product{ID: productID, UserID: "u1", Title: "Mug"}
	variants := []models.ProductVariant{{
		ID:        uuid.New(),
		ProductID: productID,
		UserID:    "u1",
		Title:     "Mug",
		SKU:       strPtr("MUG-1"),
		Price:     decimal.NewFromFloat(12.50),
		Options:   models.JSONB{},
	}}

	input, _ := ToPlatformInput(BuildInput{Product: product, Variants: variants, Create: true})

	require.Len(t, input.Options, 1)
	assert.Equal(t, "Title", input.Options[0].Name)
	assert.Equal(t, []string{"Default Title"}, input.Options[0].Values)
	assert.Equal(t, map[string]string{"Title": "Default Title"}, input.Variants[0].Options)
}

func TestToPlatformInputDeterministicOptionOrder(t *testing.T) {
	product, variants := buildProduct()
	variants[0].Options = models.JSONB{"Size": "S", "Color": "Blue"}
	variants[1].Options = models.JSONB{"Size": "M", "Color": "Red"}

	first, _ := ToPlatformInput(BuildInput{Product: product, Variants: variants, Create: true})
	second, _ := ToPlatformInput(BuildInput{Product: product, Variants: variants, Create: true})

	require.Len(t, first.Options, 2)
	assert.Equal(t, "Color", first.Options[0].Name)
	assert.Equal(t, "Size", first.Options[1].Name)
	assert.Equal(t, first.Options, second.Options)
}
