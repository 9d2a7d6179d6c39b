package submit

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
)

// WatcherProvider resolves a signature watcher for a network.
type WatcherProvider interface {
	Watcher(ctx context.Context, network domain.Network) (ledger.SignatureWatcher, error)
}

// WSURLResolver returns the websocket URL of a network's active endpoint.
type WSURLResolver interface {
	WSURL(network domain.Network) string
}

// WSWatchers dials one websocket client per URL and reuses it.
type WSWatchers struct {
	resolver WSURLResolver
	config   *ledger.WSClientConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[string]*ledger.WSClient
}

// NewWSWatchers creates a watcher provider over resolver.
func NewWSWatchers(resolver WSURLResolver, config *ledger.WSClientConfig, logger zerolog.Logger) *WSWatchers {
	return &WSWatchers{
		resolver: resolver,
		config:   config,
		logger:   logger,
		clients:  make(map[string]*ledger.WSClient),
	}
}

// Watcher returns the websocket client of the network's active endpoint.
func (w *WSWatchers) Watcher(ctx context.Context, network domain.Network) (ledger.SignatureWatcher, error) {
	url := w.resolver.WSURL(network)
	if url == "" {
		return nil, fmt.Errorf("no websocket endpoint for %s", network)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.clients[url]; ok {
		return c, nil
	}
	c, err := ledger.NewWSClient(ctx, url, w.config, w.logger)
	if err != nil {
		return nil, domain.Connectivity("dial websocket", err)
	}
	w.clients[url] = c
	return c, nil
}

// Close closes every websocket client.
func (w *WSWatchers) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for url, c := range w.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.clients, url)
	}
	return firstErr
}
