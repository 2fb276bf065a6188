package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/syncerr"
)

// LocalVault encrypts credentials with AES-256-GCM and stores the blob on the
// connection row itself (nonce-prefixed ciphertext).
type LocalVault struct {
	key []byte
}

// NewLocalVault creates a local vault from a base64-encoded 256-bit key. An
// empty key generates an ephemeral one, which is only acceptable outside
// production (config validation enforces that).
func NewLocalVault(base64Key string) (*LocalVault, error) {
	if base64Key == "" {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		return &LocalVault{key: key}, nil
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, err, "secrets.local_key is not valid base64")
	}
	if len(key) != 32 {
		return nil, syncerr.New(syncerr.KindConfig, "secrets.local_key must decode to 32 bytes, got %d", len(key))
	}
	return &LocalVault{key: key}, nil
}

func (v *LocalVault) Store(_ context.Context, conn *models.PlatformConnection, creds *Credentials) error {
	creds.UpdatedAt = time.Now()
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = creds.UpdatedAt
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	gcm, err := v.gcm()
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	conn.EncryptedCredentials = gcm.Seal(nonce, nonce, plaintext, nil)
	conn.SecretReference = ""
	return nil
}

func (v *LocalVault) Load(_ context.Context, conn *models.PlatformConnection) (*Credentials, error) {
	if len(conn.EncryptedCredentials) == 0 {
		return nil, syncerr.New(syncerr.KindNotFound, "connection %s has no stored credentials", conn.ID)
	}

	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	blob := conn.EncryptedCredentials
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("credential blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to deserialize credentials: %w", err)
	}
	return &creds, nil
}

func (v *LocalVault) Delete(_ context.Context, conn *models.PlatformConnection) error {
	conn.EncryptedCredentials = nil
	return nil
}

func (v *LocalVault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
