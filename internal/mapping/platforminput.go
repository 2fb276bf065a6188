package mapping

import (
	"sort"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
)

// DroppedVariant records a variant excluded from a platform write, with the
// reason, for activity logging.
type DroppedVariant struct {
	VariantID string
	Reason    string
}

// BuildInput holds everything needed to assemble a platform write for one
// product on one connection.
type BuildInput struct {
	Product  *models.Product
	Variants []models.ProductVariant
	// Images maps variant id -> ordered image rows.
	Images map[string][]models.ProductImage
	// Levels are the canonical inventory levels for this connection only.
	Levels []models.InventoryLevel
	// TargetLocations lists the platform location ids a create must cover.
	TargetLocations []string
	// ExistingVariantIDs maps canonical variant id -> platform variant id
	// for variants already mapped on this connection (update paths).
	ExistingVariantIDs map[string]string
	// Create selects create semantics: variants without an SKU are dropped.
	// On update, an already-mapped variant with an empty SKU is still sent.
	Create bool
}

// ToPlatformInput deterministically builds the platform write shape.
// Single-variant products without options get a synthetic
// "Title" -> "Default Title" option.
func ToPlatformInput(in BuildInput) (*platform.ProductInput, []DroppedVariant) {
	input := &platform.ProductInput{
		Title:           in.Product.Title,
		TargetLocations: in.TargetLocations,
	}
	if in.Product.Description != nil {
		input.Description = *in.Product.Description
	}

	levelsByVariant := make(map[string]map[string]int)
	for _, lvl := range in.Levels {
		vid := lvl.ProductVariantID.String()
		if levelsByVariant[vid] == nil {
			levelsByVariant[vid] = make(map[string]int)
		}
		levelsByVariant[vid][lvl.PlatformLocationID] = lvl.Quantity
	}

	var dropped []DroppedVariant
	optionValues := make(map[string][]string)
	var optionNames []string

	for _, v := range in.Variants {
		vid := v.ID.String()
		platformVariantID := in.ExistingVariantIDs[vid]

		sku := ""
		if v.SKU != nil {
			sku = *v.SKU
		}
		if in.Create && sku == "" {
			dropped = append(dropped, DroppedVariant{
				VariantID: vid,
				Reason:    "variant has no SKU; create requires one",
			})
			continue
		}
		if !in.Create && sku == "" && platformVariantID == "" {
			dropped = append(dropped, DroppedVariant{
				VariantID: vid,
				Reason:    "unmapped variant has no SKU",
			})
			continue
		}

		variant := platform.VariantInput{
			CanonicalVariantID: vid,
			PlatformVariantID:  platformVariantID,
			Title:              v.Title,
			SKU:                sku,
			Price:              v.Price,
			CompareAtPrice:     v.CompareAtPrice,
			Cost:               v.Cost,
			Weight:             v.Weight,
			WeightUnit:         v.WeightUnit,
			Taxable:            v.IsTaxable,
			RequiresShipping:   v.RequiresShipping,
			Options:            v.OptionValues(),
			Quantities:         levelsByVariant[vid],
		}
		if variant.Quantities == nil {
			variant.Quantities = make(map[string]int)
		}
		if v.Barcode != nil {
			variant.Barcode = *v.Barcode
		}

		for name, value := range variant.Options {
			if _, seen := optionValues[name]; !seen {
				optionNames = append(optionNames, name)
			}
			optionValues[name] = appendUnique(optionValues[name], value)
		}

		input.Variants = append(input.Variants, variant)

		for _, img := range in.Images[vid] {
			input.Images = append(input.Images, platform.ImageInput{
				Src:      img.ImageURL,
				Position: img.Position,
			})
		}
	}

	// Synthetic option for single-variant products without any real options.
	if len(optionNames) == 0 && len(input.Variants) == 1 {
		input.Variants[0].Options = map[string]string{"Title": "Default Title"}
		input.Options = []platform.Option{{Name: "Title", Position: 1, Values: []string{"Default Title"}}}
	} else {
		sort.Strings(optionNames)
		for i, name := range optionNames {
			input.Options = append(input.Options, platform.Option{
				Name:     name,
				Position: i + 1,
				Values:   optionValues[name],
			})
		}
	}

	return input, dropped
}

func appendUnique(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}
