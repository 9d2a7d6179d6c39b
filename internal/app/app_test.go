package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/approval"
	"tx-guard/internal/config"
	"tx-guard/internal/domain"
	"tx-guard/internal/endpoint"
	"tx-guard/internal/ledger"
	"tx-guard/internal/ledger/stub"
	"tx-guard/internal/pricing"
	redisstore "tx-guard/internal/storage/redis"
)

const lamportsPerSOL = 1_000_000_000

type healthyProber struct{}

func (healthyProber) Probe(_ context.Context, ep domain.RPCEndpoint, _ ledger.Client) endpoint.ProbeResult {
	return endpoint.ProbeResult{URL: ep.URL, Latency: 50 * time.Millisecond}
}

func newTestApp(t *testing.T, cfg *config.Config, client *stub.Client) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop(), Options{
		Factory: func(domain.RPCEndpoint) (ledger.Client, error) { return client, nil },
		Prober:  healthyProber{},
		Oracle:  pricing.Static{ledger.NativeMint: {Price: decimal.NewFromInt(100), Symbol: "SOL"}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_MemoryWiring(t *testing.T) {
	client := stub.NewClient()
	payer, recipient := stub.Key("payer"), stub.Key("recipient")
	client.SetAccount(payer, stub.Wallet(2*lamportsPerSOL))
	client.SetAccount(recipient, stub.Wallet(0))
	client.SetPost(payer, stub.Wallet(2*lamportsPerSOL-lamportsPerSOL/10))
	client.SetPost(recipient, stub.Wallet(lamportsPerSOL/10))

	a := newTestApp(t, &config.Config{}, client)
	require.NotNil(t, a.Stores.Endpoints)
	require.NotNil(t, a.Stores.History)
	require.NotNil(t, a.Stores.Audit)
	assert.Nil(t, a.Stores.Cache)

	ep, ok := a.Monitor.ActiveEndpoint(domain.NetworkDevnet)
	require.True(t, ok)
	assert.Equal(t, endpoint.DefaultEndpoints[2].URL, ep.URL)

	tx := domain.NewLegacyTransaction(payer, []domain.Instruction{{
		ProgramID: ledger.SystemProgramID,
		Accounts: []domain.AccountMeta{
			{Address: payer, IsSigner: true, IsWritable: true},
			{Address: recipient, IsWritable: true},
		},
		Data: []byte{2, 0, 0, 0},
	}})
	res, err := a.Gate.Approve(context.Background(), domain.NetworkDevnet, tx, approval.Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, res.Status)
	assert.Equal(t, domain.RiskLow, res.RiskLevel)

	records, err := a.Gate.History(context.Background(), tx, nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestNew_ConfiguredEndpointsAndLists(t *testing.T) {
	denied := stub.Key("drainer")
	cfg := &config.Config{
		Networks: map[string]config.NetworkConfig{
			"devnet": {Endpoints: []config.EndpointConfig{{URL: "http://localhost:8899", Name: "local", Priority: 1}}},
		},
		Lists: config.ListsConfig{DeniedPrograms: []string{denied}},
	}
	a := newTestApp(t, cfg, stub.NewClient())

	eps := a.Monitor.ListEndpoints(domain.NetworkDevnet)
	require.Len(t, eps, 1)
	assert.Equal(t, "http://localhost:8899", eps[0].URL)
	assert.True(t, a.Detector.Lists().ProgramDenied(denied))
	assert.True(t, a.Detector.Lists().ProgramAllowed(ledger.SystemProgramID))
}

func TestNew_RedisCacheBacking(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Cache:   config.CacheConfig{Backing: "redis"},
		Storage: config.StorageConfig{Redis: config.RedisConfig{URL: "redis://" + mr.Addr()}},
	}
	a := newTestApp(t, cfg, stub.NewClient())
	_, ok := a.Stores.Cache.(*redisstore.CacheStore)
	assert.True(t, ok)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{
		Cache:   config.CacheConfig{Backing: "redis"},
		Storage: config.StorageConfig{Redis: config.RedisConfig{URL: "redis://127.0.0.1:1"}},
	}
	_, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, &config.Config{}, stub.NewClient())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		m, ok := a.Monitor.Metrics(endpoint.DefaultEndpoints[0].URL)
		return ok && m.Probed()
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
