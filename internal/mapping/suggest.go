package mapping

import (
	"strings"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
)

// MinTitleSimilarity is the fuzzy-title floor; below it a platform variant is
// left unmatched for the user to resolve.
const MinTitleSimilarity = 0.85

const (
	confidenceBarcode = 1.0
	confidenceSKU     = 0.95
)

// Suggest matches platform variants against the user's canonical variants and
// produces at most one suggestion per platform variant. Matching priority:
// exact barcode (case-sensitive), exact SKU (case-insensitive, trimmed),
// fuzzy title. Ties break on confidence, then on the candidate's most recent
// UpdatedAt.
func Suggest(platformVariants []platform.Variant, canonical []models.ProductVariant) []models.MappingSuggestion {
	var suggestions []models.MappingSuggestion

	for _, pv := range platformVariants {
		best, matchedOn, confidence := bestMatch(pv, canonical)
		if best == nil {
			continue
		}
		suggestions = append(suggestions, models.MappingSuggestion{
			PlatformProductID: pv.ProductID,
			PlatformVariantID: pv.ID,
			ProductVariantID:  best.ID.String(),
			MatchedOn:         matchedOn,
			Confidence:        confidence,
		})
	}
	return suggestions
}

func bestMatch(pv platform.Variant, canonical []models.ProductVariant) (*models.ProductVariant, string, float64) {
	var best *models.ProductVariant
	bestOn := ""
	bestConfidence := 0.0

	consider := func(c *models.ProductVariant, on string, confidence float64) {
		if confidence < bestConfidence {
			return
		}
		if confidence == bestConfidence && best != nil && !c.UpdatedAt.After(best.UpdatedAt) {
			return
		}
		best, bestOn, bestConfidence = c, on, confidence
	}

	for i := range canonical {
		c := &canonical[i]

		if pv.Barcode != "" && c.Barcode != nil && *c.Barcode == pv.Barcode {
			consider(c, "barcode", confidenceBarcode)
			continue
		}
		if pv.SKU != "" && c.SKU != nil && skuEqual(*c.SKU, pv.SKU) {
			consider(c, "sku", confidenceSKU)
			continue
		}
		if sim := titleSimilarity(pv.Title, c.Title); sim >= MinTitleSimilarity {
			consider(c, "title", sim)
		}
	}
	return best, bestOn, bestConfidence
}

func skuEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// titleSimilarity is the Jaccard index over lowercase word sets.
func titleSimilarity(a, b string) float64 {
	setA := tokenize(a)
	setB := tokenize(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(s)) {
		field = strings.Trim(field, ".,;:!?()[]\"'")
		if field != "" {
			tokens[field] = true
		}
	}
	return tokens
}
