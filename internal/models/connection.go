package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformType represents the supported commerce platforms
type PlatformType string

const (
	PlatformShopify PlatformType = "SHOPIFY"
	PlatformSquare  PlatformType = "SQUARE"
	PlatformClover  PlatformType = "CLOVER"
)

// ConnectionStatus represents the lifecycle state of a platform connection
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionConnecting   ConnectionStatus = "CONNECTING"
	ConnectionScanning     ConnectionStatus = "SCANNING"
	ConnectionNeedsReview  ConnectionStatus = "NEEDS_REVIEW"
	ConnectionSyncing      ConnectionStatus = "SYNCING"
	ConnectionReconciling  ConnectionStatus = "RECONCILING"
	ConnectionError        ConnectionStatus = "ERROR"
)

// connectionTransitions enumerates the legal status transitions. Any state may
// flip to ERROR; ERROR only returns to DISCONNECTED via operator action.
var connectionTransitions = map[ConnectionStatus][]ConnectionStatus{
	ConnectionDisconnected: {ConnectionConnecting},
	ConnectionConnecting:   {ConnectionScanning, ConnectionDisconnected},
	ConnectionScanning:     {ConnectionNeedsReview, ConnectionDisconnected},
	ConnectionNeedsReview:  {ConnectionSyncing, ConnectionScanning, ConnectionDisconnected},
	ConnectionSyncing:      {ConnectionReconciling, ConnectionDisconnected},
	ConnectionReconciling:  {ConnectionNeedsReview, ConnectionDisconnected},
	// Queue retries re-enter the pipeline from ERROR; operators exit via
	// DISCONNECTED.
	ConnectionError: {ConnectionDisconnected, ConnectionScanning, ConnectionReconciling},
}

// CanTransition reports whether a connection may move from one status to another.
func CanTransition(from, to ConnectionStatus) bool {
	if from == to {
		return true
	}
	if to == ConnectionError {
		return true
	}
	for _, next := range connectionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsBusy reports whether a scan or reconciliation job is in flight for the
// connection. CONNECTING is not busy: it is the state scans start from.
func (s ConnectionStatus) IsBusy() bool {
	return s == ConnectionScanning || s == ConnectionReconciling
}

// Recognized keys inside PlatformConnection.PlatformData.
const (
	DataKeyShop                 = "shop"
	DataKeyMerchantID           = "merchantId"
	DataKeyScanSummary          = "scanSummary"
	DataKeyMappingSuggestions   = "mappingSuggestions"
	DataKeyLastReconciliationAt = "lastReconciliationAt"
)

// PlatformConnection represents a user's authorized link to one external
// platform account.
type PlatformConnection struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string       `gorm:"type:varchar(255);not null;index:idx_connections_user" json:"userId"`
	PlatformType PlatformType `gorm:"type:varchar(50);not null;index:idx_connections_type" json:"platformType"`
	DisplayName  string       `gorm:"type:varchar(255);not null" json:"displayName"`

	Status    ConnectionStatus `gorm:"type:varchar(50);not null;default:'DISCONNECTED';index:idx_connections_status" json:"status"`
	IsEnabled bool             `gorm:"default:true" json:"isEnabled"`

	// Opaque per-platform state: shop domain, merchant id, scan summary,
	// mapping suggestions cache, reconciliation stamp.
	PlatformData JSONB `gorm:"type:jsonb;default:'{}'" json:"platformData,omitempty"`

	// Credentials are either an AES-GCM blob decrypted by the local vault or
	// referenced out to Secret Manager; never exposed over the API.
	EncryptedCredentials []byte `gorm:"type:bytea" json:"-"`
	SecretReference      string `gorm:"type:varchar(500)" json:"-"`

	LastSyncAttemptAt *time.Time `json:"lastSyncAttemptAt,omitempty"`
	LastSyncSuccessAt *time.Time `json:"lastSyncSuccessAt,omitempty"`
	LastError         string     `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for PlatformConnection
func (PlatformConnection) TableName() string {
	return "platform_connections"
}

// ShopDomain returns the platform shop domain recorded at authorization time.
func (c *PlatformConnection) ShopDomain() string {
	if v, ok := c.PlatformData[DataKeyShop].(string); ok {
		return v
	}
	return ""
}

// MerchantID returns the platform merchant id recorded at authorization time.
func (c *PlatformConnection) MerchantID() string {
	if v, ok := c.PlatformData[DataKeyMerchantID].(string); ok {
		return v
	}
	return ""
}

// ScanSummary holds the counts computed at the end of a scan.
type ScanSummary struct {
	CountProducts  int `json:"countProducts"`
	CountVariants  int `json:"countVariants"`
	CountLocations int `json:"countLocations"`
}
