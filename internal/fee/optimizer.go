// Package fee computes congestion-aware priority fees and attaches
// compute-budget instructions to transactions.
package fee

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
	"tx-guard/internal/observability"
	"tx-guard/internal/simulation"
)

const (
	// DefaultUnitLimit is the ledger's per-transaction compute ceiling.
	DefaultUnitLimit uint32 = 1_400_000

	// DefaultUnitEstimate is used when a dry-run reports no consumption.
	DefaultUnitEstimate uint64 = 200_000

	DefaultCongestion      = 0.5
	DefaultRefreshInterval = 30 * time.Second
	DefaultCapacityTPS     = ledger.DefaultCapacityTPS

	unitBufferPct      = 20
	performanceSamples = 5
	refreshTimeout     = 3 * time.Second
)

// DefaultBasePrice returns the base priority price in micro-lamports per
// compute unit for a network.
func DefaultBasePrice(network domain.Network) uint64 {
	if network == domain.NetworkMainnet {
		return 10_000
	}
	return 1_000
}

// Optimizer computes priority fees from network congestion.
type Optimizer struct {
	provider          ledger.Provider
	simulator         simulation.Simulator
	basePrices        map[domain.Network]uint64
	capacityTPS       float64
	refreshInterval   time.Duration
	defaultCongestion float64
	now               func() time.Time
	logger            zerolog.Logger

	mu      sync.Mutex
	samples map[domain.Network]*congestionSample
	group   singleflight.Group
}

type congestionSample struct {
	value     float64 // last measured value, or the default before any success
	checkedAt time.Time
}

// OptimizerOptions contains configuration for creating an Optimizer.
type OptimizerOptions struct {
	Provider          ledger.Provider
	Simulator         simulation.Simulator
	BasePrices        map[domain.Network]uint64 // missing networks use DefaultBasePrice
	CapacityTPS       float64                   // TPS treated as full congestion; default 5000
	RefreshInterval   time.Duration             // default 30s
	DefaultCongestion float64                   // used before any successful lookup; default 0.5
	Now               func() time.Time
	Logger            zerolog.Logger
}

// NewOptimizer creates a fee optimizer.
func NewOptimizer(opts OptimizerOptions) *Optimizer {
	capacity := opts.CapacityTPS
	if capacity <= 0 {
		capacity = DefaultCapacityTPS
	}
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	def := opts.DefaultCongestion
	if def <= 0 || def > 1 {
		def = DefaultCongestion
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	prices := make(map[domain.Network]uint64, len(domain.Networks))
	for _, n := range domain.Networks {
		prices[n] = DefaultBasePrice(n)
	}
	for n, p := range opts.BasePrices {
		if p > 0 {
			prices[n] = p
		}
	}

	return &Optimizer{
		provider:          opts.Provider,
		simulator:         opts.Simulator,
		basePrices:        prices,
		capacityTPS:       capacity,
		refreshInterval:   interval,
		defaultCongestion: def,
		now:               now,
		logger:            opts.Logger.With().Str("component", "fee").Logger(),
		samples:           make(map[domain.Network]*congestionSample),
	}
}

// BasePrice returns the configured base price of network.
func (o *Optimizer) BasePrice(network domain.Network) uint64 {
	if p, ok := o.basePrices[network]; ok {
		return p
	}
	return DefaultBasePrice(network)
}

// ComputePriorityFee returns the priority fee in micro-lamports per compute
// unit: basePrice * (1 + 2*congestion) * multiplier(tier).
func (o *Optimizer) ComputePriorityFee(ctx context.Context, network domain.Network, tier domain.PriorityTier) uint64 {
	congestion := o.Congestion(ctx, network)
	fee := uint64(math.Round(float64(o.BasePrice(network)) * (1 + 2*congestion) * tier.Multiplier()))
	observability.RecordPriorityFee(string(network), string(tier), fee)
	return fee
}

// Congestion returns the congestion of network in [0,1]. The ledger is
// consulted at most once per refresh interval; failed lookups fall back to
// the last known value, then to the configured default.
func (o *Optimizer) Congestion(ctx context.Context, network domain.Network) float64 {
	o.mu.Lock()
	s, ok := o.samples[network]
	if ok && o.now().Sub(s.checkedAt) < o.refreshInterval {
		v := s.value
		o.mu.Unlock()
		return v
	}
	o.mu.Unlock()

	v, _, _ := o.group.Do(string(network), func() (interface{}, error) {
		return o.refresh(ctx, network), nil
	})
	return v.(float64)
}

func (o *Optimizer) refresh(ctx context.Context, network domain.Network) float64 {
	measured, err := o.measure(ctx, network)

	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.samples[network]
	if !ok {
		s = &congestionSample{value: o.defaultCongestion}
		o.samples[network] = s
	}
	s.checkedAt = o.now()

	if err != nil {
		o.logger.Warn().Err(err).Str("network", string(network)).Float64("fallback", s.value).
			Msg("congestion lookup failed")
		observability.UpdateCongestion(string(network), s.value, true)
		return s.value
	}
	s.value = measured
	observability.UpdateCongestion(string(network), s.value, false)
	return s.value
}

func (o *Optimizer) measure(ctx context.Context, network domain.Network) (float64, error) {
	if o.provider == nil {
		return 0, domain.Connectivity("congestion", errNoProvider)
	}
	client, err := o.provider.Client(network)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	samples, err := client.GetRecentPerformanceSamples(ctx, performanceSamples)
	if err != nil {
		return 0, err
	}
	return ledger.CongestionFromSamples(samples, o.capacityTPS)
}

// AttachBudget returns a copy of tx whose instructions start with a unit
// limit and a unit price for tier. Without an explicit limit the limit already
// set by tx is kept, else the ledger's default ceiling is used.
func (o *Optimizer) AttachBudget(ctx context.Context, network domain.Network, tx domain.Transaction, tier domain.PriorityTier, unitLimit *uint32) domain.Transaction {
	limit := DefaultUnitLimit
	if own, ok := ParseComputeUnitLimit(tx.Instructions()); ok && own > 0 {
		limit = min(own, DefaultUnitLimit)
	}
	if unitLimit != nil && *unitLimit > 0 {
		limit = min(*unitLimit, DefaultUnitLimit)
	}
	price := o.ComputePriorityFee(ctx, network, tier)
	return tx.WithInstructions(WithBudget(tx.Instructions(), limit, price))
}

// EstimateUnitsFromSimulation dry-runs tx and returns consumed units plus a
// 20% buffer, capped at DefaultUnitLimit. A failed or unavailable dry-run
// yields the buffered default estimate.
func (o *Optimizer) EstimateUnitsFromSimulation(ctx context.Context, network domain.Network, tx domain.Transaction, signers []string) uint32 {
	units := DefaultUnitEstimate
	if o.simulator != nil {
		res, err := o.simulator.Simulate(ctx, network, tx, signers)
		switch {
		case err != nil:
			o.logger.Debug().Err(err).Msg("unit estimate falls back to default")
		case res.UnitsConsumed != nil && *res.UnitsConsumed > 0:
			units = *res.UnitsConsumed
		}
	}
	buffered := (units*(100+unitBufferPct) + 99) / 100
	if buffered > uint64(DefaultUnitLimit) {
		return DefaultUnitLimit
	}
	return uint32(buffered)
}
