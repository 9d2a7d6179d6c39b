package postgres

import (
	"context"
	"fmt"

	"tx-guard/internal/domain"
	"tx-guard/internal/storage"
)

// EndpointStore is a PostgreSQL implementation of storage.EndpointStore.
type EndpointStore struct {
	pool *Pool
}

// NewEndpointStore creates a new PostgreSQL endpoint store.
func NewEndpointStore(pool *Pool) *EndpointStore {
	return &EndpointStore{pool: pool}
}

// Insert adds a custom endpoint. Returns ErrDuplicateKey if the URL exists.
func (s *EndpointStore) Insert(ctx context.Context, ep *domain.RPCEndpoint) error {
	if ep == nil || ep.URL == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rpc_endpoints (url, ws_url, name, network, priority, weight, is_custom)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ep.URL, ep.WSURL, ep.Name, string(ep.Network), ep.Priority, ep.Weight, ep.IsCustom)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

// Delete removes an endpoint by URL.
func (s *EndpointStore) Delete(ctx context.Context, url string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rpc_endpoints WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns all endpoints in insertion order.
func (s *EndpointStore) List(ctx context.Context) ([]*domain.RPCEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT url, ws_url, name, network, priority, weight, is_custom
		FROM rpc_endpoints
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var result []*domain.RPCEndpoint
	for rows.Next() {
		var ep domain.RPCEndpoint
		var network string
		if err := rows.Scan(&ep.URL, &ep.WSURL, &ep.Name, &network, &ep.Priority, &ep.Weight, &ep.IsCustom); err != nil {
			return nil, err
		}
		ep.Network = domain.Network(network)
		result = append(result, &ep)
	}
	return result, rows.Err()
}

var _ storage.EndpointStore = (*EndpointStore)(nil)
