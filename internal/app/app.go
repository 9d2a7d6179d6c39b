// Package app wires tx-guard components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tx-guard/internal/anomaly"
	"tx-guard/internal/approval"
	"tx-guard/internal/batch"
	"tx-guard/internal/config"
	"tx-guard/internal/endpoint"
	"tx-guard/internal/fee"
	"tx-guard/internal/history"
	"tx-guard/internal/ledger"
	"tx-guard/internal/preview"
	"tx-guard/internal/pricing"
	"tx-guard/internal/simulation"
	"tx-guard/internal/storage"
	chstore "tx-guard/internal/storage/clickhouse"
	"tx-guard/internal/storage/memory"
	"tx-guard/internal/storage/migrations"
	pgstore "tx-guard/internal/storage/postgres"
	redisstore "tx-guard/internal/storage/redis"
	"tx-guard/internal/submit"
)

// purgeInterval is how often expired durable cache entries are removed.
const purgeInterval = 10 * time.Minute

// Stores holds the storage implementations chosen by configuration.
type Stores struct {
	Endpoints storage.EndpointStore
	History   storage.HistoryStore
	Audit     storage.ApprovalAuditStore
	Cache     storage.CacheStore // nil keeps cached values in process memory only
}

// App holds every component of the service.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Stores Stores

	Monitor     *endpoint.Monitor
	Simulations *simulation.Cache
	Fees        *fee.Optimizer
	Batcher     *batch.Batcher
	Previews    *preview.Builder
	Detector    *anomaly.Detector
	Gate        *approval.Gate
	History     *history.Loader
	Submitter   *submit.Submitter
	Oracle      pricing.Oracle

	closers []func() error
}

// Options overrides parts of the wiring, mainly for tests.
type Options struct {
	// Factory replaces the JSON-RPC client factory of the endpoint monitor.
	Factory endpoint.ClientFactory
	// Prober replaces the endpoint prober.
	Prober endpoint.Prober
	// Oracle replaces the configured price oracle.
	Oracle pricing.Oracle
	// Stores replaces the configured stores. Zero fields fall back to the
	// configured ones.
	Stores Stores
}

// New builds the application. On error every resource opened so far is
// released.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) (err error) {
	cfg, logger := a.Config, a.Logger

	// Step 1: Stores
	if err := a.openStores(ctx, opts.Stores); err != nil {
		return err
	}

	// Step 2: Endpoint monitor, which is also the ledger client provider
	factory := opts.Factory
	if factory == nil {
		factory = endpoint.HTTPClientFactory(
			ledger.WithTimeout(cfg.RPC.Timeout),
			ledger.WithMaxRetries(cfg.RPC.MaxRetries),
			ledger.WithRetryDelay(cfg.RPC.RetryDelay),
		)
	}
	prober := opts.Prober
	if prober == nil {
		prober = endpoint.RPCProber{CapacityTPS: cfg.Monitor.CapacityTPS}
	}
	a.Monitor = endpoint.NewMonitor(endpoint.MonitorOptions{
		Endpoints: cfg.Endpoints(),
		Factory:   factory,
		Prober:    prober,
		Store:     a.Stores.Endpoints,
		Interval:  cfg.Monitor.Interval,
		Timeout:   cfg.Monitor.Timeout,
		Logger:    logger,
	})
	if err := a.Monitor.LoadCustom(ctx); err != nil {
		logger.Warn().Err(err).Msg("load custom endpoints")
	}

	// Step 3: Simulation cache and fee optimizer
	a.Simulations, err = simulation.NewCache(simulation.CacheOptions{
		Provider: a.Monitor,
		TTL:      cfg.Cache.SimulationTTL,
		Size:     cfg.Cache.Size,
		Backing:  a.Stores.Cache,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create simulation cache: %w", err)
	}
	a.Fees = fee.NewOptimizer(fee.OptimizerOptions{
		Provider:          a.Monitor,
		Simulator:         a.Simulations,
		BasePrices:        cfg.BasePrices(),
		CapacityTPS:       cfg.Fee.CapacityTPS,
		RefreshInterval:   cfg.Fee.RefreshInterval,
		DefaultCongestion: cfg.Fee.DefaultCongestion,
		Logger:            logger,
	})
	a.Batcher = batch.NewBatcher(batch.BatcherOptions{
		Attacher:        a.Fees,
		MaxInstructions: cfg.Batch.MaxInstructions,
		MaxBytes:        cfg.Batch.MaxBytes,
	})

	// Step 4: Pricing, previews and history
	a.Oracle = opts.Oracle
	if a.Oracle == nil {
		if a.Oracle, err = a.buildOracle(); err != nil {
			return err
		}
	}
	a.Previews = preview.NewBuilder(preview.BuilderOptions{
		Simulator: a.Simulations,
		Provider:  a.Monitor,
		Fees:      a.Fees,
		Oracle:    a.Oracle,
		Logger:    logger,
	})
	a.History = history.NewLoader(history.LoaderOptions{
		Provider: a.Monitor,
		Store:    a.Stores.History,
		Limit:    cfg.History.Limit,
		Logger:   logger,
	})

	// Step 5: Anomaly detector and approval gate
	lists := anomaly.NewLists(cfg.Lists.AllowedPrograms, cfg.Lists.DeniedPrograms, cfg.Lists.DeniedMints)
	a.Detector = anomaly.NewDetector(anomaly.DetectorOptions{
		Previewer:  a.Previews,
		Provider:   a.Monitor,
		History:    a.History,
		Lists:      &lists,
		Thresholds: cfg.Anomaly,
		Logger:     logger,
	})
	a.Gate = approval.NewGate(approval.GateOptions{
		Previewer:                  a.Previews,
		Detector:                   a.Detector,
		Audit:                      a.Stores.Audit,
		Logger:                     logger,
		AutoApproveThresholdUSD:    cfg.Approval.AutoApproveThresholdUSD,
		HardwareWalletThresholdUSD: cfg.Approval.HardwareWalletThresholdUSD,
	})

	// Step 6: Submission
	subOpts := submit.SubmitterOptions{
		Provider:     a.Monitor,
		Recorder:     a.History,
		Commitment:   ledger.Commitment(cfg.Submit.Commitment),
		PollInterval: cfg.Submit.PollInterval,
		SendAttempts: cfg.Submit.SendAttempts,
		SendDelay:    cfg.Submit.SendDelay,
		Logger:       logger,
	}
	if cfg.Submit.Websocket {
		wsCfg := ledger.DefaultWSConfig()
		watchers := submit.NewWSWatchers(a.Monitor, &wsCfg, logger)
		a.closers = append(a.closers, watchers.Close)
		subOpts.Watchers = watchers
	}
	a.Submitter = submit.NewSubmitter(subOpts)
	return nil
}

func (a *App) openStores(ctx context.Context, override Stores) error {
	cfg := a.Config.Storage
	a.Stores = override

	var pool *pgstore.Pool
	if cfg.Postgres.DSN != "" && (a.Stores.Endpoints == nil || a.Stores.History == nil || a.Config.Cache.Backing == "postgres") {
		p, err := pgstore.NewPool(ctx, cfg.Postgres.DSN,
			pgstore.WithMaxConns(cfg.Postgres.MaxConns),
			pgstore.WithMaxConnIdleTime(cfg.Postgres.MaxConnIdleTime),
		)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { p.Close(); return nil })
		if cfg.Postgres.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, p); err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
		}
		pool = p
	}

	if a.Stores.Endpoints == nil {
		if pool != nil {
			a.Stores.Endpoints = pgstore.NewEndpointStore(pool)
		} else {
			a.Stores.Endpoints = memory.NewEndpointStore()
		}
	}
	if a.Stores.History == nil {
		if pool != nil {
			a.Stores.History = pgstore.NewHistoryStore(pool)
		} else {
			a.Stores.History = memory.NewHistoryStore()
		}
	}

	if a.Stores.Audit == nil {
		if cfg.ClickHouse.DSN != "" {
			conn, err := a.openClickHouse(ctx)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, conn.Close)
			a.Stores.Audit = chstore.NewApprovalAuditStore(conn)
		} else {
			a.Stores.Audit = memory.NewApprovalAuditStore()
		}
	}

	if a.Stores.Cache == nil {
		switch a.Config.Cache.Backing {
		case "postgres":
			a.Stores.Cache = pgstore.NewCacheStore(pool)
		case "redis":
			rs, err := redisstore.New(ctx, cfg.Redis.URL, cfg.Redis.Password)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, rs.Close)
			a.Stores.Cache = rs
		}
	}
	return nil
}

func (a *App) openClickHouse(ctx context.Context) (*chstore.Conn, error) {
	cfg := a.Config.Storage.ClickHouse
	if cfg.Migrate {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		return conn, nil
	}
	return chstore.NewConn(ctx, cfg.DSN)
}

func (a *App) buildOracle() (pricing.Oracle, error) {
	cfg := a.Config.Pricing
	static := make(pricing.Static, len(cfg.Static))
	for _, p := range cfg.Static {
		static[p.Mint] = pricing.Quote{Price: p.Price, Symbol: p.Symbol}
	}
	if cfg.BaseURL == "" {
		return static, nil
	}
	remote, err := pricing.NewHTTPOracle(pricing.HTTPOracleOptions{
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		QuoteTTL:   cfg.QuoteTTL,
		Backing:    a.Stores.Cache,
		Logger:     a.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create price oracle: %w", err)
	}
	return pricing.Overrides{Static: static, Next: remote}, nil
}

// Run drives the background loops until ctx is done: endpoint probing and
// expiry of durable cache entries.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Monitor.Run(ctx)
	})
	if a.Stores.Cache != nil {
		g.Go(func() error {
			ticker := time.NewTicker(purgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if n := a.Simulations.PurgeExpired(ctx); n > 0 {
						a.Logger.Debug().Int("removed", n).Msg("purged expired cache entries")
					}
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
