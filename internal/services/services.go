package services

import (
	"context"
	"encoding/json"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

// decodePayload unmarshals a job's JSONB payload into a typed struct.
func decodePayload(payload models.JSONB, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return syncerr.Wrap(syncerr.KindInternal, err, "failed to encode job payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return syncerr.Wrap(syncerr.KindInternal, err, "failed to decode job payload")
	}
	return nil
}

// encodePayload marshals a typed payload into the JSONB a job row carries.
func encodePayload(in interface{}) (models.JSONB, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindInternal, err, "failed to encode job payload")
	}
	var out models.JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, syncerr.Wrap(syncerr.KindInternal, err, "failed to encode job payload")
	}
	return out, nil
}

// remarshal converts a decoded JSON value (as stored inside PlatformData)
// into a typed struct.
func remarshal(value interface{}, out interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return syncerr.Wrap(syncerr.KindInternal, err, "failed to re-encode stored value")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return syncerr.Wrap(syncerr.KindInternal, err, "failed to decode stored value")
	}
	return nil
}

// adapterFor decrypts a connection's credentials and builds its adapter.
// Credentials live only for the duration of the calling job.
func adapterFor(ctx context.Context, vault secrets.Vault, registry *platform.Registry, conn *models.PlatformConnection) (platform.Adapter, error) {
	creds, err := vault.Load(ctx, conn)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindPlatformAuth, err, "failed to decrypt credentials for connection %s", conn.ID)
	}
	return registry.New(conn, creds)
}
