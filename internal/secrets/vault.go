package secrets

import (
	"context"
	"time"

	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/syncerr"
)

// Credentials is the decrypted credential set for one platform connection.
// Exactly which fields are populated depends on the platform.
type Credentials struct {
	AccessToken   string            `json:"access_token,omitempty"`
	APIKey        string            `json:"api_key,omitempty"`
	ShopDomain    string            `json:"shop_domain,omitempty"`
	MerchantID    string            `json:"merchant_id,omitempty"`
	WebhookSecret string            `json:"webhook_secret,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vault stores and retrieves connection credentials. Implementations mutate
// the connection's EncryptedCredentials / SecretReference fields; the caller
// persists the connection row.
type Vault interface {
	Store(ctx context.Context, conn *models.PlatformConnection, creds *Credentials) error
	Load(ctx context.Context, conn *models.PlatformConnection) (*Credentials, error)
	Delete(ctx context.Context, conn *models.PlatformConnection) error
}

// NewVault constructs the vault selected by configuration.
func NewVault(ctx context.Context, cfg config.SecretsConfig) (Vault, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalVault(cfg.LocalKey)
	case "gcp":
		return NewGCPVault(ctx, cfg.GCPProjectID)
	default:
		return nil, syncerr.New(syncerr.KindConfig, "unknown secrets backend %q", cfg.Backend)
	}
}
