// Package cache provides a bounded, TTL-based cache for expensive
// collaborator lookups.
//
// A Cache is process-local. It is an optimization only: nothing in the
// engine depends on a hit for correctness.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Config controls cache limits.
type Config struct {
	MaxSize    int
	DefaultTTL time.Duration

	// Clock is used for expiry. Defaults to time.Now.
	Clock func() time.Time
}

type entry[V any] struct {
	value     V
	cachedAt  time.Time
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is an LRU with per-entry expiry. Get refreshes recency; when the
// cache is full a new key evicts the least recently used entry. Expired
// entries are dropped lazily on access or by Sweep.
type Cache[K comparable, V any] struct {
	mu  sync.Mutex
	cfg Config
	lru *simplelru.LRU[K, entry[V]]
}

// New creates a cache. MaxSize below 1 is treated as 1.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Cache[K, V]{cfg: cfg, lru: newLRU[K, V](cfg.MaxSize)}
}

func newLRU[K comparable, V any](size int) *simplelru.LRU[K, entry[V]] {
	l, err := simplelru.NewLRU[K, entry[V]](size, nil)
	if err != nil {
		// Only returned for a non-positive size, which New rules out.
		panic(err)
	}
	return l
}

// Get returns the cached value for key. An expired entry is removed and
// reported as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if e.expired(c.cfg.Clock()) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value under key. A non-positive ttl means the entry
// never expires.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Clock()
	e := entry[V]{value: value, cachedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	c.lru.Add(key, e)
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Load errors are not cached. Concurrent misses for the same key may call
// load more than once.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Clock()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (c *Cache[K, V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Reset drops all entries.
func (c *Cache[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
