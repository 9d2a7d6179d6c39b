package fee

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/domain"
	"tx-guard/internal/ledger"
	"tx-guard/internal/ledger/stub"
)

type fakeSimulator struct {
	res *domain.SimulationResult
	err error
}

func (f fakeSimulator) Simulate(context.Context, domain.Network, domain.Transaction, []string) (*domain.SimulationResult, error) {
	return f.res, f.err
}

func samplesAtTPS(tps uint64) []ledger.PerformanceSample {
	return []ledger.PerformanceSample{
		{Slot: 10, NumTransactions: tps * 60, NumSlots: 150, SamplePeriodSecs: 60},
		{Slot: 9, NumTransactions: tps * 60, NumSlots: 150, SamplePeriodSecs: 60},
	}
}

func newTestOptimizer(client *stub.Client, now func() time.Time) *Optimizer {
	return NewOptimizer(OptimizerOptions{
		Provider: ledger.FixedProvider{C: client},
		Now:      now,
		Logger:   zerolog.Nop(),
	})
}

func TestComputePriorityFee(t *testing.T) {
	client := stub.NewClient()
	client.Samples = samplesAtTPS(2500) // congestion 0.5
	o := newTestOptimizer(client, nil)
	ctx := context.Background()

	tests := []struct {
		network domain.Network
		tier    domain.PriorityTier
		want    uint64
	}{
		{domain.NetworkMainnet, domain.PriorityLow, 16_000},
		{domain.NetworkMainnet, domain.PriorityMedium, 20_000},
		{domain.NetworkMainnet, domain.PriorityHigh, 30_000},
		{domain.NetworkMainnet, domain.PriorityUrgent, 60_000},
		{domain.NetworkDevnet, domain.PriorityMedium, 2_000},
		{domain.NetworkTestnet, domain.PriorityUrgent, 6_000},
		{domain.NetworkDevnet, domain.PriorityTier("bogus"), 2_000},
	}
	for _, tt := range tests {
		t.Run(string(tt.network)+"/"+string(tt.tier), func(t *testing.T) {
			assert.Equal(t, tt.want, o.ComputePriorityFee(ctx, tt.network, tt.tier))
		})
	}
}

func TestComputePriorityFee_ConfiguredBasePrice(t *testing.T) {
	client := stub.NewClient()
	client.Samples = samplesAtTPS(0)
	o := NewOptimizer(OptimizerOptions{
		Provider:   ledger.FixedProvider{C: client},
		BasePrices: map[domain.Network]uint64{domain.NetworkDevnet: 5_000},
		Logger:     zerolog.Nop(),
	})
	assert.Equal(t, uint64(5_000), o.ComputePriorityFee(context.Background(), domain.NetworkDevnet, domain.PriorityMedium))
	assert.Equal(t, uint64(10_000), o.BasePrice(domain.NetworkMainnet))
}

func TestCongestion_RefreshedAtMostEveryInterval(t *testing.T) {
	client := stub.NewClient()
	client.Samples = samplesAtTPS(1000)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOptimizer(client, func() time.Time { return now })
	ctx := context.Background()

	assert.InDelta(t, 0.2, o.Congestion(ctx, domain.NetworkDevnet), 1e-9)
	client.Samples = samplesAtTPS(4000)
	now = now.Add(29 * time.Second)
	assert.InDelta(t, 0.2, o.Congestion(ctx, domain.NetworkDevnet), 1e-9)
	assert.Equal(t, 1, client.Calls("getRecentPerformanceSamples"))

	now = now.Add(time.Second)
	assert.InDelta(t, 0.8, o.Congestion(ctx, domain.NetworkDevnet), 1e-9)
	assert.Equal(t, 2, client.Calls("getRecentPerformanceSamples"))
}

func TestCongestion_FallbackOnFailure(t *testing.T) {
	client := stub.NewClient()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := newTestOptimizer(client, func() time.Time { return now })
	ctx := context.Background()

	// No successful lookup yet: documented default
	client.Err = errors.New("down")
	assert.Equal(t, DefaultCongestion, o.Congestion(ctx, domain.NetworkMainnet))

	client.Err = nil
	client.Samples = samplesAtTPS(500)
	now = now.Add(DefaultRefreshInterval)
	assert.InDelta(t, 0.1, o.Congestion(ctx, domain.NetworkMainnet), 1e-9)

	// Failure keeps the last known value
	client.Err = errors.New("down")
	now = now.Add(DefaultRefreshInterval)
	assert.InDelta(t, 0.1, o.Congestion(ctx, domain.NetworkMainnet), 1e-9)
}

func TestCongestion_ClampedAndNoProvider(t *testing.T) {
	client := stub.NewClient()
	client.Samples = samplesAtTPS(9000)
	o := newTestOptimizer(client, nil)
	assert.Equal(t, 1.0, o.Congestion(context.Background(), domain.NetworkMainnet))

	bare := NewOptimizer(OptimizerOptions{Logger: zerolog.Nop()})
	assert.Equal(t, DefaultCongestion, bare.Congestion(context.Background(), domain.NetworkMainnet))
}

func TestAttachBudget(t *testing.T) {
	client := stub.NewClient()
	client.Samples = samplesAtTPS(0)
	o := newTestOptimizer(client, nil)
	payer := stub.Key("payer")

	original := []domain.Instruction{
		SetComputeUnitPrice(1), // replaced
		{ProgramID: ledger.SystemProgramID, Accounts: []domain.AccountMeta{{Address: payer, IsSigner: true, IsWritable: true}}, Data: []byte{1}},
	}
	tx := domain.NewLegacyTransaction(payer, original)

	limit := uint32(300_000)
	out := o.AttachBudget(context.Background(), domain.NetworkDevnet, tx, domain.PriorityHigh, &limit)

	ixs := out.Instructions()
	require.Len(t, ixs, 3)
	gotLimit, ok := ParseComputeUnitLimit(ixs)
	require.True(t, ok)
	assert.Equal(t, limit, gotLimit)
	price, ok := ParseComputeUnitPrice(ixs)
	require.True(t, ok)
	assert.Equal(t, uint64(1_500), price)
	assert.Equal(t, ledger.SystemProgramID, ixs[2].ProgramID)

	// Caller's transaction is untouched
	assert.Len(t, tx.Instructions(), 2)
	p, _ := ParseComputeUnitPrice(tx.Instructions())
	assert.Equal(t, uint64(1), p)
	assert.Equal(t, ledger.ComputeBudgetProgramID, original[0].ProgramID)

	// Without an explicit limit the default ceiling is used
	def := o.AttachBudget(context.Background(), domain.NetworkDevnet, tx, domain.PriorityMedium, nil)
	gotLimit, _ = ParseComputeUnitLimit(def.Instructions())
	assert.Equal(t, DefaultUnitLimit, gotLimit)

	// A limit set by the transaction itself survives when none is requested
	own := domain.NewLegacyTransaction(payer, append([]domain.Instruction{SetComputeUnitLimit(50_000)}, original[1:]...))
	kept := o.AttachBudget(context.Background(), domain.NetworkDevnet, own, domain.PriorityMedium, nil)
	require.Len(t, kept.Instructions(), 3)
	gotLimit, _ = ParseComputeUnitLimit(kept.Instructions())
	assert.Equal(t, uint32(50_000), gotLimit)
}

func TestEstimateUnitsFromSimulation(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }
	tx := domain.NewLegacyTransaction(stub.Key("payer"), nil)
	tests := []struct {
		name string
		sim  fakeSimulator
		want uint32
	}{
		{"consumed", fakeSimulator{res: &domain.SimulationResult{Success: true, UnitsConsumed: u(100_000)}}, 120_000},
		{"rounds up", fakeSimulator{res: &domain.SimulationResult{Success: true, UnitsConsumed: u(1_001)}}, 1_202},
		{"missing units", fakeSimulator{res: &domain.SimulationResult{Success: true}}, 240_000},
		{"service failure", fakeSimulator{err: domain.ErrConnectivity}, 240_000},
		{"capped", fakeSimulator{res: &domain.SimulationResult{UnitsConsumed: u(1_300_000)}}, DefaultUnitLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptimizer(OptimizerOptions{Simulator: tt.sim, Logger: zerolog.Nop()})
			assert.Equal(t, tt.want, o.EstimateUnitsFromSimulation(context.Background(), domain.NetworkDevnet, tx, nil))
		})
	}
}

