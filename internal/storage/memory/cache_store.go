package memory

import (
	"context"
	"sync"
	"time"

	"tx-guard/internal/storage"
)

// CacheStore is an in-memory implementation of storage.CacheStore.
type CacheStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.CacheEntry // namespace -> key -> entry
}

// NewCacheStore creates a new in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		data: make(map[string]map[string]*storage.CacheEntry),
	}
}

// Get returns the entry for key in namespace.
func (s *CacheStore) Get(_ context.Context, namespace, key string) (*storage.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[namespace][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyEntry(e), nil
}

// Put inserts or replaces an entry.
func (s *CacheStore) Put(_ context.Context, namespace string, e *storage.CacheEntry) error {
	if e == nil || e.Key == "" || namespace == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]*storage.CacheEntry)
		s.data[namespace] = ns
	}
	ns[e.Key] = copyEntry(e)
	return nil
}

// Delete removes one entry.
func (s *CacheStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[namespace], key)
	return nil
}

// Clear removes every entry of namespace.
func (s *CacheStore) Clear(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, namespace)
	return nil
}

// PurgeExpired removes expired entries across namespaces.
func (s *CacheStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, ns := range s.data {
		for k, e := range ns {
			if e.Expired(now) {
				delete(ns, k)
				n++
			}
		}
	}
	return n, nil
}

func copyEntry(e *storage.CacheEntry) *storage.CacheEntry {
	cp := *e
	cp.Value = append([]byte(nil), e.Value...)
	return &cp
}

var _ storage.CacheStore = (*CacheStore)(nil)
