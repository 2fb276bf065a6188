package services

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// idempotencyTTL bounds how long a webhook event id is remembered. Platforms
// retry within minutes; a day is comfortably past every retry schedule.
const idempotencyTTL = 24 * time.Hour

// IdempotencyStore answers "have we seen this key before" ahead of the
// database insert, so duplicate webhook storms don't hit the table at all.
// The database unique index remains the source of truth.
type IdempotencyStore interface {
	// MarkIfNew records the key and reports whether it was new.
	MarkIfNew(ctx context.Context, key string) (bool, error)
	// Forget releases a key, so a retried delivery is not dropped as a
	// duplicate of one that was never stored.
	Forget(ctx context.Context, key string) error
}

// RedisIdempotencyStore backs the store with Redis SETNX, shared across
// replicas.
type RedisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// MarkIfNew records the key via SETNX with a TTL.
func (s *RedisIdempotencyStore) MarkIfNew(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, "webhook:idem:"+key, 1, idempotencyTTL).Result()
}

// Forget removes the key.
func (s *RedisIdempotencyStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, "webhook:idem:"+key).Err()
}

// MemoryIdempotencyStore is the single-process fallback when Redis is not
// configured.
type MemoryIdempotencyStore struct {
	cache *cache.Cache
}

// NewMemoryIdempotencyStore creates an in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{cache: cache.New(idempotencyTTL, 10*time.Minute)}
}

// MarkIfNew records the key in the local cache.
func (s *MemoryIdempotencyStore) MarkIfNew(_ context.Context, key string) (bool, error) {
	err := s.cache.Add(key, struct{}{}, cache.DefaultExpiration)
	return err == nil, nil
}

// Forget removes the key.
func (s *MemoryIdempotencyStore) Forget(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
