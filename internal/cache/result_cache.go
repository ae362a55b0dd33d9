// Package cache holds short-lived tool results keyed by normalized request
// parameters.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Entry is a cached tool payload. Entries are never mutated after Set.
type Entry struct {
	Data      json.RawMessage   `json:"data"`
	Provider  string            `json:"provider,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CachedAt  time.Time         `json:"cached_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ResultCache stores entries for a single namespace with a fixed TTL.
type ResultCache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, entry Entry)
	TTL() time.Duration
}

type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits as a percentage of lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

type counters struct {
	hits, misses, sets atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Sets: c.sets.Load()}
}

// MemoryCache is an in-process ResultCache.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Entry
	now     func() time.Time
	stats   counters
}

var _ ResultCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]Entry), now: time.Now}
}

func (c *MemoryCache) TTL() time.Duration { return c.ttl }

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.Expired(c.now()) {
		c.stats.misses.Add(1)
		return Entry{}, false
	}
	c.stats.hits.Add(1)
	return entry, true
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry) {
	now := c.now()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	c.stats.sets.Add(1)
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) Stats() Stats { return c.stats.snapshot() }

// RedisCache stores entries as JSON under "<prefix><namespace>:<key>".
// Redis failures are logged and treated as misses.
type RedisCache struct {
	client    *redis.Client
	namespace string
	prefix    string
	ttl       time.Duration
	logger    *zap.Logger
	stats     counters
}

var _ ResultCache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client:    client,
		namespace: namespace,
		prefix:    "tool_cache:",
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *RedisCache) TTL() time.Duration { return c.ttl }

func (c *RedisCache) key(key string) string {
	return c.prefix + c.namespace + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		c.stats.misses.Add(1)
		return Entry{}, false
	}
	if err != nil {
		c.logger.Warn("Tool cache read failed", zap.String("namespace", c.namespace), zap.Error(err))
		c.stats.misses.Add(1)
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("Tool cache entry unreadable", zap.String("namespace", c.namespace), zap.Error(err))
		c.stats.misses.Add(1)
		return Entry{}, false
	}
	if entry.Expired(time.Now()) {
		c.stats.misses.Add(1)
		return Entry{}, false
	}
	c.stats.hits.Add(1)
	return entry, true
}

func (c *RedisCache) Set(ctx context.Context, key string, entry Entry) {
	now := time.Now()
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("Tool cache entry not encodable", zap.String("namespace", c.namespace), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Tool cache write failed", zap.String("namespace", c.namespace), zap.Error(err))
		return
	}
	c.stats.sets.Add(1)
}

// Clear removes every entry in this namespace.
func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	iter := c.client.Scan(ctx, 0, c.key("*"), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (c *RedisCache) Stats() Stats { return c.stats.snapshot() }

// Factory builds one cache per namespace on the configured backend.
type Factory func(namespace string, ttl time.Duration) ResultCache

// NewFactory returns a Redis-backed factory when client is non-nil and an
// in-memory one otherwise.
func NewFactory(client *redis.Client, logger *zap.Logger) Factory {
	if client == nil {
		return func(_ string, ttl time.Duration) ResultCache { return NewMemoryCache(ttl) }
	}
	return func(namespace string, ttl time.Duration) ResultCache {
		return NewRedisCache(client, namespace, ttl, logger)
	}
}
