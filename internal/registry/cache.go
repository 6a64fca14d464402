package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache abstracts shared storage for Agent Cards so a Registry can run
// single-node (MemoryCache) or clustered behind a shared Redis instance
// (RedisCache), per spec.md §5's multi-instance deployment note.
type Cache interface {
	Get(ctx context.Context, key string) (*Card, error)
	Set(ctx context.Context, key string, c *Card, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

type cacheEntry struct {
	card      *Card
	expiresAt time.Time
}

// MemoryCache is the default single-node Cache implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache constructs an empty in-memory Cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached card, nil if absent or expired.
func (m *MemoryCache) Get(_ context.Context, key string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.card, nil
}

// Set stores c under key with the given TTL.
func (m *MemoryCache) Set(_ context.Context, key string, c *Card, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cacheEntry{card: c, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes key.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Keys lists all non-expired keys.
func (m *MemoryCache) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	out := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if now.Before(e.expiresAt) {
			out = append(out, k)
		}
	}
	return out, nil
}

// RedisCache shares Agent Card state across orchestrator instances via a
// Redis keyspace, so clients connecting to any node observe the same
// registry, mirroring the multi-node clustering guarantee the teacher's
// registry service provides through Pulse replicated maps.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache wraps an existing *redis.Client. keyPrefix namespaces all
// keys this cache writes (for example "agentmesh:registry:").
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "agentmesh:registry:"
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCache) fullKey(key string) string { return c.keyPrefix + key }

// Get fetches and decodes the card stored under key.
func (c *RedisCache) Get(ctx context.Context, key string) (*Card, error) {
	raw, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Set encodes and stores c under key with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, card *Card, ttl time.Duration) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.fullKey(key), raw, ttl).Err()
}

// Delete removes key from the shared cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.fullKey(key)).Err()
}

// Keys lists all agent IDs currently tracked in Redis under this cache's
// prefix.
func (c *RedisCache) Keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(c.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
