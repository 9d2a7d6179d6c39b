// Package simulation dry-runs transactions through a content-addressed cache.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tx-guard/internal/cache"
	"tx-guard/internal/domain"
	"tx-guard/internal/idhash"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
	"tx-guard/internal/storage"
)

// Namespace is the cache namespace of simulation results.
const Namespace = "simulation"

// DefaultTTL is how long a simulation result stays valid.
const DefaultTTL = 5 * time.Minute

// Simulator runs a transaction dry-run for a network.
type Simulator interface {
	Simulate(ctx context.Context, network domain.Network, tx domain.Transaction, signers []string) (*domain.SimulationResult, error)
}

// Cache memoizes dry-runs by transaction content.
type Cache struct {
	provider ledger.Provider
	results  *cache.Cache[*domain.SimulationResult]
	group    singleflight.Group
	logger   zerolog.Logger
}

// CacheOptions contains configuration for creating a Cache.
type CacheOptions struct {
	Provider ledger.Provider
	TTL      time.Duration // default 5m
	Size     int
	Now      func() time.Time
	Backing  storage.CacheStore // optional durable store shared across instances
	Logger   zerolog.Logger
}

// NewCache creates a simulation cache.
func NewCache(opts CacheOptions) (*Cache, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	results, err := cache.New[*domain.SimulationResult](Namespace, cache.Options{
		Size:    opts.Size,
		TTL:     ttl,
		Now:     opts.Now,
		Backing: opts.Backing,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		provider: opts.Provider,
		results:  results,
		logger:   opts.Logger.With().Str("component", "simulation").Logger(),
	}, nil
}

// Key returns the cache key of tx simulated on network with signers.
func Key(network domain.Network, tx domain.Transaction, signers []string) string {
	return string(network) + ":" + idhash.ComputeTransactionKey(tx.WithSigners(signers), signers)
}

// Simulate returns the dry-run result of tx, from cache when a result for the
// same content is still valid. Steps:
//  1. Mark signers on the transaction and compute its content key
//  2. Serve a live cache entry without touching the ledger
//  3. Otherwise dry-run once per key, even under concurrent callers
//  4. Cache the outcome, including Success=false; service errors are not cached
func (c *Cache) Simulate(ctx context.Context, network domain.Network, tx domain.Transaction, signers []string) (*domain.SimulationResult, error) {
	tx = tx.WithSigners(signers)
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	key := Key(network, tx, signers)

	if res, ok := c.results.Get(ctx, key); ok {
		observability.RecordSimulationCache(true)
		return cloneResult(res), nil
	}
	observability.RecordSimulationCache(false)

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have filled the entry while we waited.
		if res, ok := c.results.Get(ctx, key); ok {
			return res, nil
		}
		res, err := c.dryRun(ctx, network, tx)
		if err != nil {
			return nil, err
		}
		c.results.Set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug().Str("key", key).Msg("simulation shared with concurrent caller")
	}
	return cloneResult(v.(*domain.SimulationResult)), nil
}

func (c *Cache) dryRun(ctx context.Context, network domain.Network, tx domain.Transaction) (*domain.SimulationResult, error) {
	client, err := c.provider.Client(network)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := client.Simulate(ctx, tx, ledger.SimulateOptions{
		Accounts:   tx.WritableAccounts(),
		Commitment: ledger.CommitmentConfirmed,
	})
	observability.RecordSimulationCall(time.Since(start).Seconds(), err)
	if err != nil {
		c.logger.Warn().Err(err).Str("network", string(network)).Msg("simulation service failure")
		switch {
		case errors.Is(err, domain.ErrValidation),
			errors.Is(err, domain.ErrConnectivity),
			errors.Is(err, domain.ErrTimeout):
			return nil, fmt.Errorf("simulate: %w", err)
		default:
			return nil, domain.Connectivity("simulate", err)
		}
	}
	if res == nil {
		return nil, domain.Connectivity("simulate", errors.New("empty simulation response"))
	}
	return res, nil
}

// Invalidate drops the cached result of tx simulated with signers on network.
func (c *Cache) Invalidate(ctx context.Context, network domain.Network, tx domain.Transaction, signers []string) {
	c.results.Delete(ctx, Key(network, tx, signers))
}

// Clear drops every cached result.
func (c *Cache) Clear(ctx context.Context) {
	c.results.Clear(ctx)
}

// PurgeExpired drops expired results and returns how many were held in memory.
func (c *Cache) PurgeExpired(ctx context.Context) int {
	return c.results.PurgeExpired(ctx)
}

func cloneResult(r *domain.SimulationResult) *domain.SimulationResult {
	cp := *r
	cp.Logs = append([]string(nil), r.Logs...)
	if r.UnitsConsumed != nil {
		u := *r.UnitsConsumed
		cp.UnitsConsumed = &u
	}
	if r.PostAccounts != nil {
		cp.PostAccounts = make(map[string]*domain.AccountState, len(r.PostAccounts))
		for k, v := range r.PostAccounts {
			if v == nil {
				cp.PostAccounts[k] = nil
				continue
			}
			s := *v
			s.Data = append([]byte(nil), v.Data...)
			cp.PostAccounts[k] = &s
		}
	}
	return &cp
}

var _ Simulator = (*Cache)(nil)
