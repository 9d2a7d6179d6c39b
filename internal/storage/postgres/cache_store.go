package postgres

import (
	"context"
	"fmt"
	"time"

	"tx-guard/internal/storage"
)

// CacheStore is a PostgreSQL implementation of storage.CacheStore.
type CacheStore struct {
	pool *Pool
}

// NewCacheStore creates a new PostgreSQL cache store.
func NewCacheStore(pool *Pool) *CacheStore {
	return &CacheStore{pool: pool}
}

// Get returns the entry for key in namespace.
func (s *CacheStore) Get(ctx context.Context, namespace, key string) (*storage.CacheEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, value, created_at, expires_at
		FROM cache_entries
		WHERE namespace = $1 AND key = $2
	`, namespace, key)

	var e storage.CacheEntry
	if err := row.Scan(&e.Key, &e.Value, &e.CreatedAt, &e.ExpiresAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return &e, nil
}

// Put inserts or replaces an entry.
func (s *CacheStore) Put(ctx context.Context, namespace string, e *storage.CacheEntry) error {
	if e == nil || e.Key == "" || namespace == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (namespace, key, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key) DO UPDATE
		SET value = EXCLUDED.value,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`, namespace, e.Key, e.Value, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry.
func (s *CacheStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE namespace = $1 AND key = $2`, namespace, key)
	return err
}

// Clear removes every entry of namespace.
func (s *CacheStore) Clear(ctx context.Context, namespace string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE namespace = $1`, namespace)
	return err
}

// PurgeExpired removes expired entries across namespaces.
func (s *CacheStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ storage.CacheStore = (*CacheStore)(nil)
