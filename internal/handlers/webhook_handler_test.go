package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"catalog-sync-service/internal/models"
)

func TestParsePlatform(t *testing.T) {
	cases := []struct {
		raw  string
		want models.PlatformType
		ok   bool
	}{
		{"shopify", models.PlatformShopify, true},
		{"SHOPIFY", models.PlatformShopify, true},
		{"Square", models.PlatformSquare, true},
		{"clover", models.PlatformClover, true},
		{"ebay", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := parsePlatform(tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}
