package platform

import (
	"sync"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

// Factory builds an adapter for one connection from its decrypted
// credentials. Adapters are per-job; credentials never outlive the job.
type Factory func(conn *models.PlatformConnection, creds *secrets.Credentials) (Adapter, error)

// Registry maps platform types to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.PlatformType]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.PlatformType]Factory)}
}

// Register installs a factory for a platform type.
func (r *Registry) Register(platformType models.PlatformType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platformType] = factory
}

// New builds an adapter for the given connection.
func (r *Registry) New(conn *models.PlatformConnection, creds *secrets.Credentials) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[conn.PlatformType]
	r.mu.RUnlock()
	if !ok {
		return nil, syncerr.New(syncerr.KindConfig, "no adapter registered for platform %s", conn.PlatformType)
	}
	return factory(conn, creds)
}

// Supported reports whether a platform type has a registered adapter.
func (r *Registry) Supported(platformType models.PlatformType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[platformType]
	return ok
}
