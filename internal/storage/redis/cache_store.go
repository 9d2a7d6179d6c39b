// Package redis provides a Redis-backed storage.CacheStore for deployments
// that share the simulation cache between replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tx-guard/internal/storage"
)

const defaultPrefix = "txguard:cache"

// CacheStore implements storage.CacheStore on Redis strings with native TTL.
type CacheStore struct {
	rdb    *goredis.Client
	prefix string
	now    func() time.Time
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL, password string) (*CacheStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewCacheStore(rdb), nil
}

// NewCacheStore wraps an existing client.
func NewCacheStore(rdb *goredis.Client) *CacheStore {
	return &CacheStore{rdb: rdb, prefix: defaultPrefix, now: time.Now}
}

// Close shuts down the Redis connection.
func (s *CacheStore) Close() error {
	return s.rdb.Close()
}

type record struct {
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *CacheStore) key(namespace, key string) string {
	return s.prefix + ":" + namespace + ":" + key
}

// Get returns the entry for key in namespace.
func (s *CacheStore) Get(ctx context.Context, namespace, key string) (*storage.CacheEntry, error) {
	raw, err := s.rdb.Get(ctx, s.key(namespace, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	return &storage.CacheEntry{Key: key, Value: r.Value, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt}, nil
}

// Put stores the entry with a TTL matching its ExpiresAt. Already-expired
// entries are not written.
func (s *CacheStore) Put(ctx context.Context, namespace string, e *storage.CacheEntry) error {
	if e == nil || e.Key == "" || namespace == "" {
		return storage.ErrInvalidInput
	}

	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Delete(ctx, namespace, e.Key)
	}

	raw, err := json.Marshal(record{Value: e.Value, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(namespace, e.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *CacheStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.rdb.Del(ctx, s.key(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every key of namespace using SCAN.
func (s *CacheStore) Clear(ctx context.Context, namespace string) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+":"+namespace+":*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// PurgeExpired is a no-op: Redis expires keys itself.
func (s *CacheStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ storage.CacheStore = (*CacheStore)(nil)
