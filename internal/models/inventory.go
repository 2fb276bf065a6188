package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLocation is the sentinel PlatformLocationID for platforms without a
// location concept; using "" instead of NULL keeps the uniqueness index
// effective.
const DefaultLocation = ""

// InventoryLevel records the quantity of one variant at one platform location
// through one connection.
type InventoryLevel struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductVariantID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_inventory_variant_conn_loc;index:idx_inventory_variant" json:"productVariantId"`
	PlatformConnectionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_inventory_variant_conn_loc;index:idx_inventory_connection" json:"platformConnectionId"`
	PlatformLocationID   string    `gorm:"type:varchar(255);not null;default:'';uniqueIndex:idx_inventory_variant_conn_loc" json:"platformLocationId"`

	Quantity int `gorm:"not null;default:0" json:"quantity"`

	// Stamp from the platform payload when available; used by reconciliation
	// to decide staleness.
	LastPlatformUpdateAt *time.Time `json:"lastPlatformUpdateAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for InventoryLevel
func (InventoryLevel) TableName() string {
	return "inventory_levels"
}
