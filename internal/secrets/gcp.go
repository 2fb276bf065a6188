package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretmanagerpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/syncerr"
)

type cacheEntry struct {
	creds     *Credentials
	expiresAt time.Time
}

// GCPVault stores credentials in Google Cloud Secret Manager, one secret per
// connection, with a short read cache.
type GCPVault struct {
	client    *secretmanager.Client
	projectID string
	cache     map[string]*cacheEntry
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
}

// NewGCPVault creates a Secret Manager backed vault.
func NewGCPVault(ctx context.Context, projectID string) (*GCPVault, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &GCPVault{
		client:    client,
		projectID: projectID,
		cache:     make(map[string]*cacheEntry),
		cacheTTL:  5 * time.Minute,
	}, nil
}

// Close closes the Secret Manager client
func (v *GCPVault) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

// secretName builds the fully qualified secret name for a connection.
// Format: projects/{project}/secrets/conn-{connection_id}
func (v *GCPVault) secretName(conn *models.PlatformConnection) string {
	if conn.SecretReference != "" {
		return conn.SecretReference
	}
	return fmt.Sprintf("projects/%s/secrets/conn-%s", v.projectID, sanitizeSecretID(conn.ID.String()))
}

func (v *GCPVault) Store(ctx context.Context, conn *models.PlatformConnection, creds *Credentials) error {
	creds.UpdatedAt = time.Now()
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = creds.UpdatedAt
	}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	name := v.secretName(conn)
	secretID := extractSecretID(name)

	createRequest := &secretmanagerpb.CreateSecretRequest{
		Parent:   fmt.Sprintf("projects/%s", v.projectID),
		SecretId: secretID,
		Secret: &secretmanagerpb.Secret{
			Replication: &secretmanagerpb.Replication{
				Replication: &secretmanagerpb.Replication_Automatic_{
					Automatic: &secretmanagerpb.Replication_Automatic{},
				},
			},
		},
	}

	_, err = v.client.CreateSecret(ctx, createRequest)
	if err != nil && !isAlreadyExistsError(err) {
		return fmt.Errorf("failed to create secret: %w", err)
	}

	addVersionRequest := &secretmanagerpb.AddSecretVersionRequest{
		Parent: name,
		Payload: &secretmanagerpb.SecretPayload{
			Data: data,
		},
	}

	if _, err := v.client.AddSecretVersion(ctx, addVersionRequest); err != nil {
		return fmt.Errorf("failed to add secret version: %w", err)
	}

	conn.SecretReference = name
	conn.EncryptedCredentials = nil

	v.cacheMu.Lock()
	delete(v.cache, name)
	v.cacheMu.Unlock()

	return nil
}

func (v *GCPVault) Load(ctx context.Context, conn *models.PlatformConnection) (*Credentials, error) {
	if conn.SecretReference == "" {
		return nil, syncerr.New(syncerr.KindNotFound, "connection %s has no stored credentials", conn.ID)
	}
	name := conn.SecretReference

	v.cacheMu.RLock()
	if entry, ok := v.cache[name]; ok && time.Now().Before(entry.expiresAt) {
		v.cacheMu.RUnlock()
		return entry.creds, nil
	}
	v.cacheMu.RUnlock()

	accessRequest := &secretmanagerpb.AccessSecretVersionRequest{
		Name: name + "/versions/latest",
	}

	result, err := v.client.AccessSecretVersion(ctx, accessRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to access secret: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(result.Payload.Data, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	v.cacheMu.Lock()
	v.cache[name] = &cacheEntry{
		creds:     &creds,
		expiresAt: time.Now().Add(v.cacheTTL),
	}
	v.cacheMu.Unlock()

	return &creds, nil
}

func (v *GCPVault) Delete(ctx context.Context, conn *models.PlatformConnection) error {
	if conn.SecretReference == "" {
		return nil
	}
	name := conn.SecretReference

	deleteRequest := &secretmanagerpb.DeleteSecretRequest{
		Name: name,
	}
	if err := v.client.DeleteSecret(ctx, deleteRequest); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete secret: %w", err)
	}

	v.cacheMu.Lock()
	delete(v.cache, name)
	v.cacheMu.Unlock()

	conn.SecretReference = ""
	return nil
}

// sanitizeSecretID removes or replaces invalid characters for GCP secret IDs.
// Secret IDs can only contain alphanumeric characters, hyphens, and underscores.
func sanitizeSecretID(input string) string {
	var result strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}
	return result.String()
}

// extractSecretID extracts the secret ID from the full secret name
func extractSecretID(secretName string) string {
	parts := strings.Split(secretName, "/")
	if len(parts) >= 4 {
		return parts[3]
	}
	return secretName
}

func isAlreadyExistsError(err error) bool {
	return strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already exists")
}

func isNotFoundError(err error) bool {
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "not found")
}
