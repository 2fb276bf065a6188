package models

import (
	"time"

	"github.com/google/uuid"
)

// MappingSyncStatus reflects the outcome of the last push for a mapping
type MappingSyncStatus string

const (
	MappingSyncPending MappingSyncStatus = "PENDING"
	MappingSyncSuccess MappingSyncStatus = "SUCCESS"
	MappingSyncError   MappingSyncStatus = "ERROR"
)

// PlatformProductMapping links a canonical variant to the platform-side
// product/variant pair on one connection. One mapping per (connection,
// variant); the platform variant id is likewise unique per connection.
type PlatformProductMapping struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlatformConnectionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_mappings_conn_variant;uniqueIndex:idx_mappings_conn_platform_variant;index:idx_mappings_connection" json:"platformConnectionId"`
	ProductVariantID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_mappings_conn_variant;index:idx_mappings_variant" json:"productVariantId"`

	PlatformProductID string  `gorm:"type:varchar(255);not null" json:"platformProductId"`
	PlatformVariantID *string `gorm:"type:varchar(255);uniqueIndex:idx_mappings_conn_platform_variant" json:"platformVariantId,omitempty"`
	PlatformSKU       *string `gorm:"type:varchar(255)" json:"platformSku,omitempty"`

	IsEnabled bool `gorm:"default:true" json:"isEnabled"`

	SyncStatus       MappingSyncStatus `gorm:"type:varchar(50);not null;default:'PENDING'" json:"syncStatus"`
	SyncErrorMessage *string           `gorm:"type:text" json:"syncErrorMessage,omitempty"`
	LastSyncedAt     *time.Time        `json:"lastSyncedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for PlatformProductMapping
func (PlatformProductMapping) TableName() string {
	return "platform_product_mappings"
}

// MappingSuggestion is a proposed link between a platform item and an existing
// canonical variant, produced during the post-scan review step. Suggestions
// live in the connection's PlatformData until confirmed or dismissed.
type MappingSuggestion struct {
	PlatformProductID string  `json:"platformProductId"`
	PlatformVariantID string  `json:"platformVariantId"`
	ProductVariantID  string  `json:"productVariantId"`
	MatchedOn         string  `json:"matchedOn"` // "sku", "barcode", or "title"
	Confidence        float64 `json:"confidence"`
}
