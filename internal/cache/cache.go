// Package cache provides a namespaced, size-bounded TTL cache with an
// optional durable backing store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"tx-guard/internal/storage"
)

const (
	defaultSize = 1000
	defaultTTL  = 5 * time.Minute
)

// Options configures a Cache.
type Options struct {
	Size    int                // max entries held in memory; default 1000
	TTL     time.Duration      // entry lifetime; default 5m
	Now     func() time.Time   // clock; default time.Now
	Backing storage.CacheStore // optional durable store
	Logger  zerolog.Logger
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Cache holds values of one namespace. Writes refresh an entry's position,
// reads do not, so the oldest-written entry is evicted first.
type Cache[V any] struct {
	namespace string
	ttl       time.Duration
	now       func() time.Time
	items     *lru.Cache[string, entry[V]]
	backing   storage.CacheStore
	logger    zerolog.Logger
}

// New creates a cache for namespace.
func New[V any](namespace string, opts Options) (*Cache[V], error) {
	if namespace == "" {
		return nil, errors.New("cache: empty namespace")
	}
	size := opts.Size
	if size <= 0 {
		size = defaultSize
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	items, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	return &Cache[V]{
		namespace: namespace,
		ttl:       ttl,
		now:       now,
		items:     items,
		backing:   opts.Backing,
		logger:    opts.Logger.With().Str("component", "cache").Str("namespace", namespace).Logger(),
	}, nil
}

// Namespace returns the cache namespace.
func (c *Cache[V]) Namespace() string { return c.namespace }

// TTL returns the entry lifetime.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the value for key if present and not expired. Expired entries
// are removed on access.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	now := c.now()

	if e, ok := c.items.Peek(key); ok {
		if now.Before(e.expiresAt) {
			return e.value, true
		}
		c.items.Remove(key)
	}

	if c.backing != nil {
		if v, ok := c.loadBacking(ctx, key, now); ok {
			return v, true
		}
	}

	var zero V
	return zero, false
}

func (c *Cache[V]) loadBacking(ctx context.Context, key string, now time.Time) (V, bool) {
	var zero V

	rec, err := c.backing.Get(ctx, c.namespace, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn().Err(err).Str("key", key).Msg("backing store read failed")
		}
		return zero, false
	}
	if rec.Expired(now) {
		if err := c.backing.Delete(ctx, c.namespace, key); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("backing store delete failed")
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("backing store entry undecodable")
		return zero, false
	}
	c.items.Add(key, entry[V]{value: v, createdAt: rec.CreatedAt, expiresAt: rec.ExpiresAt})
	return v, true
}

// Set stores value under key with the cache TTL.
func (c *Cache[V]) Set(ctx context.Context, key string, value V) {
	now := c.now()
	e := entry[V]{value: value, createdAt: now, expiresAt: now.Add(c.ttl)}
	c.items.Add(key, e)

	if c.backing == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache value not encodable")
		return
	}
	rec := &storage.CacheEntry{Key: key, Value: raw, CreatedAt: e.createdAt, ExpiresAt: e.expiresAt}
	if err := c.backing.Put(ctx, c.namespace, rec); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("backing store write failed")
	}
}

// Delete removes key.
func (c *Cache[V]) Delete(ctx context.Context, key string) {
	c.items.Remove(key)
	if c.backing != nil {
		if err := c.backing.Delete(ctx, c.namespace, key); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("backing store delete failed")
		}
	}
}

// Clear removes every entry of the namespace.
func (c *Cache[V]) Clear(ctx context.Context) {
	c.items.Purge()
	if c.backing != nil {
		if err := c.backing.Clear(ctx, c.namespace); err != nil {
			c.logger.Warn().Err(err).Msg("backing store clear failed")
		}
	}
}

// Len returns the number of in-memory entries, expired ones included.
func (c *Cache[V]) Len() int {
	return c.items.Len()
}

// PurgeExpired drops expired in-memory entries and asks the backing store to
// do the same. Returns the number of in-memory entries removed.
func (c *Cache[V]) PurgeExpired(ctx context.Context) int {
	now := c.now()
	removed := 0
	for _, k := range c.items.Keys() {
		if e, ok := c.items.Peek(k); ok && !now.Before(e.expiresAt) {
			c.items.Remove(k)
			removed++
		}
	}
	if c.backing != nil {
		if n, err := c.backing.PurgeExpired(ctx, now); err != nil {
			c.logger.Warn().Err(err).Msg("backing store purge failed")
		} else if n > 0 {
			c.logger.Debug().Int64("purged", n).Msg("backing store purged")
		}
	}
	return removed
}
