package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx-guard/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: txguard\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 30*time.Second, cfg.Fee.RefreshInterval)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SimulationTTL)
	assert.Equal(t, "memory", cfg.Cache.Backing)
	assert.True(t, decimal.NewFromInt(50).Equal(cfg.Approval.AutoApproveThresholdUSD))
	assert.True(t, decimal.NewFromInt(1000).Equal(cfg.Approval.HardwareWalletThresholdUSD))
	assert.True(t, decimal.NewFromInt(1000).Equal(cfg.Anomaly.HighValueUSD))
	assert.Equal(t, 3, cfg.Anomaly.UnusualProgramThreshold)
	assert.Equal(t, "confirmed", cfg.Submit.Commitment)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Nil(t, cfg.Endpoints())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
networks:
  devnet:
    base_priority_fee: 2500
    endpoints:
      - url: http://localhost:8899
        ws_url: ws://localhost:8900
        name: local
        priority: 1
approval:
  auto_approve_threshold_usd: 25.5
lists:
  denied_mints: [Mint1111, Mint2222]
pricing:
  static:
    - mint: So11111111111111111111111111111111111111112
      symbol: SOL
      price: "150.25"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	eps := cfg.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, domain.RPCEndpoint{
		URL:      "http://localhost:8899",
		WSURL:    "ws://localhost:8900",
		Name:     "local",
		Network:  domain.NetworkDevnet,
		Priority: 1,
		Weight:   1,
	}, eps[0])
	assert.Equal(t, map[domain.Network]uint64{domain.NetworkDevnet: 2500}, cfg.BasePrices())
	assert.True(t, decimal.RequireFromString("25.5").Equal(cfg.Approval.AutoApproveThresholdUSD))
	assert.Equal(t, []string{"Mint1111", "Mint2222"}, cfg.Lists.DeniedMints)

	require.Len(t, cfg.Pricing.Static, 1)
	assert.Equal(t, "So11111111111111111111111111111111111111112", cfg.Pricing.Static[0].Mint)
	assert.True(t, decimal.RequireFromString("150.25").Equal(cfg.Pricing.Static[0].Price))
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TXGUARD_HTTP_ADDR", ":9999")
	t.Setenv("TXGUARD_MONITOR_INTERVAL", "15s")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "txguard", cfg.App.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown network", "networks:\n  localnet:\n    endpoints:\n      - url: http://x\n", "unsupported network"},
		{"endpoint without url", "networks:\n  devnet:\n    endpoints:\n      - name: x\n", "url is required"},
		{"redis backing without url", "cache:\n  backing: redis\n", "storage.redis.url"},
		{"postgres backing without dsn", "cache:\n  backing: postgres\n", "storage.postgres.dsn"},
		{"unknown backing", "cache:\n  backing: disk\n", "cache.backing"},
		{"inverted thresholds", "approval:\n  auto_approve_threshold_usd: 2000\n", "hardware_wallet_threshold_usd"},
		{"bad commitment", "submit:\n  commitment: rooted\n", "submit.commitment"},
		{"static price without mint", "pricing:\n  static:\n    - price: 1\n", "pricing.static[0]"},
		{"congestion out of range", "fee:\n  default_congestion: 1.5\n", "fee.default_congestion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
