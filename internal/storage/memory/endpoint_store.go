package memory

import (
	"context"
	"sync"

	"tx-guard/internal/domain"
	"tx-guard/internal/storage"
)

// EndpointStore is an in-memory implementation of storage.EndpointStore.
type EndpointStore struct {
	mu    sync.RWMutex
	order []string
	data  map[string]*domain.RPCEndpoint // keyed by url
}

// NewEndpointStore creates a new in-memory endpoint store.
func NewEndpointStore() *EndpointStore {
	return &EndpointStore{
		data: make(map[string]*domain.RPCEndpoint),
	}
}

// Insert adds a custom endpoint. Returns ErrDuplicateKey if the URL exists.
func (s *EndpointStore) Insert(_ context.Context, ep *domain.RPCEndpoint) error {
	if ep == nil || ep.URL == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[ep.URL]; exists {
		return storage.ErrDuplicateKey
	}

	epCopy := *ep
	s.data[ep.URL] = &epCopy
	s.order = append(s.order, ep.URL)
	return nil
}

// Delete removes an endpoint by URL.
func (s *EndpointStore) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[url]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, url)
	for i, u := range s.order {
		if u == url {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all endpoints in insertion order.
func (s *EndpointStore) List(_ context.Context) ([]*domain.RPCEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RPCEndpoint, 0, len(s.order))
	for _, u := range s.order {
		epCopy := *s.data[u]
		result = append(result, &epCopy)
	}
	return result, nil
}

var _ storage.EndpointStore = (*EndpointStore)(nil)
