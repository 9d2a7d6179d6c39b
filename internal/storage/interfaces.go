package storage

import (
	"context"
	"time"

	"tx-guard/internal/domain"
)

// CacheEntry is one durable cache record.
type CacheEntry struct {
	Key       string    // content key, unique within a namespace
	Value     []byte    // JSON-encoded payload
	CreatedAt time.Time // time of the miss that produced the value
	ExpiresAt time.Time // entry is absent once now >= ExpiresAt
}

// Expired reports whether the entry is no longer valid at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStore is the optional durable backing of the namespaced cache.
type CacheStore interface {
	// Get returns the entry for key in namespace. Returns ErrNotFound if absent.
	// Expired entries may be returned; callers check ExpiresAt.
	Get(ctx context.Context, namespace, key string) (*CacheEntry, error)

	// Put inserts or replaces the entry for e.Key in namespace.
	Put(ctx context.Context, namespace string, e *CacheEntry) error

	// Delete removes one entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Clear removes every entry of namespace.
	Clear(ctx context.Context, namespace string) error

	// PurgeExpired removes entries with ExpiresAt <= now across namespaces
	// and returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// EndpointStore persists user-added RPC endpoints.
type EndpointStore interface {
	// Insert adds a custom endpoint. Returns ErrDuplicateKey if the URL exists.
	Insert(ctx context.Context, ep *domain.RPCEndpoint) error

	// Delete removes an endpoint by URL. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, url string) error

	// List returns all persisted endpoints ordered by insertion.
	List(ctx context.Context) ([]*domain.RPCEndpoint, error)
}

// HistoryStore persists the transaction history of signers.
type HistoryStore interface {
	// Insert adds an entry. Returns ErrDuplicateKey if (signer, signature) exists.
	Insert(ctx context.Context, e *domain.HistoryEntry) error

	// GetBySigner returns up to limit entries of signer, newest first.
	// A limit <= 0 returns all entries.
	GetBySigner(ctx context.Context, signer string, limit int) ([]*domain.HistoryEntry, error)
}

// ApprovalAuditStore is an append-only log of approval verdicts.
type ApprovalAuditStore interface {
	// Insert appends a verdict record.
	Insert(ctx context.Context, r *domain.ApprovalRecord) error

	// GetByTxKey returns all verdicts for a transaction key, ordered by EvaluatedAt ASC.
	GetByTxKey(ctx context.Context, txKey string) ([]*domain.ApprovalRecord, error)
}
