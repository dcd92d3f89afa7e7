// Package cache deduplicates and reuses language-model responses.
// It layers a hot in-memory LRU over a persistent SQLite tier and
// guarantees at most one concurrent computation per key via singleflight.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/normanking/stride/internal/store"
)

// PersistentTier is the durable storage contract the cache needs.
// *store.Store satisfies it.
type PersistentTier interface {
	GetCacheEntry(ctx context.Context, key string) (*store.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *store.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCacheByTag(ctx context.Context, tag string) (int, error)
}

// ComputeError indicates the compute function failed. The in-flight entry
// is forgotten so subsequent callers retry instead of inheriting the failure.
type ComputeError struct {
	Key string
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("cache compute failed for %s: %v", shortKey(e.Key), e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// Stats tracks cache effectiveness. Returned by copy.
type Stats struct {
	MemoryHits     int64
	PersistentHits int64
	Misses         int64
	Computes       int64
	ComputeErrors  int64
	TagPurges      int64
}

type memEntry struct {
	value     string
	expiresAt time.Time
	tags      []string
}

// ResponseCache is the two-tier response cache.
type ResponseCache struct {
	memory     *lru.Cache[string, memEntry]
	tier       PersistentTier
	group      singleflight.Group
	defaultTTL time.Duration
	log        zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithLogger sets the cache logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *ResponseCache) {
		c.log = log
	}
}

// New creates a response cache with the given memory capacity and default
// TTL. The persistent tier may be nil, in which case the cache is
// memory-only and entries do not survive restarts.
func New(memorySize int, defaultTTL time.Duration, tier PersistentTier, opts ...Option) (*ResponseCache, error) {
	if memorySize <= 0 {
		return nil, fmt.Errorf("memory size must be positive, got %d", memorySize)
	}

	mem, err := lru.New[string, memEntry](memorySize)
	if err != nil {
		return nil, fmt.Errorf("create memory tier: %w", err)
	}

	c := &ResponseCache{
		memory:     mem,
		tier:       tier,
		defaultTTL: defaultTTL,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrCompute returns the cached value for key, or runs compute exactly
// once across concurrent callers and caches the result. A ttl of zero uses
// the cache default. Tags associate the entry with invalidation groups.
func (c *ResponseCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute func(context.Context) (string, error)) (string, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	// Memory fast path outside the flight group.
	if value, ok := c.memoryGet(key); ok {
		c.count(func(s *Stats) { s.MemoryHits++ })
		return value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check memory: a concurrent flight may have filled it.
		if value, ok := c.memoryGet(key); ok {
			c.count(func(s *Stats) { s.MemoryHits++ })
			return value, nil
		}

		// Persistent tier, promoting to memory on hit.
		if c.tier != nil {
			entry, err := c.tier.GetCacheEntry(ctx, key)
			if err == nil {
				c.memory.Add(key, memEntry{
					value:     entry.Value,
					expiresAt: entry.ExpiresAt,
					tags:      entry.Tags,
				})
				c.count(func(s *Stats) { s.PersistentHits++ })
				return entry.Value, nil
			}
			if err != store.ErrCacheMiss {
				c.log.Warn().Err(err).Msg("persistent tier read failed, computing")
			}
		}

		c.count(func(s *Stats) { s.Misses++; s.Computes++ })

		value, err := compute(ctx)
		if err != nil {
			c.count(func(s *Stats) { s.ComputeErrors++ })
			return "", &ComputeError{Key: key, Err: err}
		}

		expiresAt := time.Now().UTC().Add(ttl)
		c.memory.Add(key, memEntry{value: value, expiresAt: expiresAt, tags: tags})

		if c.tier != nil {
			putErr := c.tier.PutCacheEntry(ctx, &store.CacheEntry{
				Key:       key,
				Value:     value,
				ExpiresAt: expiresAt,
				Tags:      tags,
			})
			if putErr != nil {
				c.log.Warn().Err(putErr).Msg("persistent tier write failed")
			}
		}

		return value, nil
	})
	if err != nil {
		// Forget the failed flight so later callers are not poisoned.
		c.group.Forget(key)
		return "", err
	}

	return v.(string), nil
}

// Invalidate removes a single key from both tiers.
func (c *ResponseCache) Invalidate(ctx context.Context, key string) error {
	c.memory.Remove(key)
	if c.tier != nil {
		if err := c.tier.DeleteCacheEntry(ctx, key); err != nil {
			return fmt.Errorf("invalidate %s: %w", shortKey(key), err)
		}
	}
	return nil
}

// InvalidateTag purges every entry sharing the tag from both tiers and
// returns the number removed from the persistent tier.
func (c *ResponseCache) InvalidateTag(ctx context.Context, tag string) (int, error) {
	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok && hasTag(entry.tags, tag) {
			c.memory.Remove(key)
		}
	}

	c.count(func(s *Stats) { s.TagPurges++ })

	if c.tier == nil {
		return 0, nil
	}
	n, err := c.tier.DeleteCacheByTag(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("invalidate tag %s: %w", tag, err)
	}
	return n, nil
}

// Stats returns a snapshot of cache counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// memoryGet returns a live memory-tier value, evicting expired entries.
func (c *ResponseCache) memoryGet(key string) (string, bool) {
	entry, ok := c.memory.Get(key)
	if !ok {
		return "", false
	}
	if time.Now().UTC().After(entry.expiresAt) {
		c.memory.Remove(key)
		return "", false
	}
	return entry.value, true
}

func (c *ResponseCache) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// shortKey truncates fingerprints for log and error messages.
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
