// Package config loads tx-guard configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tx-guard/internal/anomaly"
	"tx-guard/internal/domain"
	"tx-guard/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. TXGUARD_HTTP_ADDR.
const EnvPrefix = "TXGUARD"

// Config materialises application configuration.
type Config struct {
	App      AppConfig                `mapstructure:"app"`
	Logging  logging.Config           `mapstructure:"logging"`
	RPC      RPCConfig                `mapstructure:"rpc"`
	Networks map[string]NetworkConfig `mapstructure:"networks"`
	Monitor  MonitorConfig            `mapstructure:"monitor"`
	Fee      FeeConfig                `mapstructure:"fee"`
	Batch    BatchConfig              `mapstructure:"batch"`
	Cache    CacheConfig              `mapstructure:"cache"`
	Approval ApprovalConfig           `mapstructure:"approval"`
	Anomaly  anomaly.Thresholds       `mapstructure:"anomaly"`
	Lists    ListsConfig              `mapstructure:"lists"`
	Pricing  PricingConfig            `mapstructure:"pricing"`
	Submit   SubmitConfig             `mapstructure:"submit"`
	History  HistoryConfig            `mapstructure:"history"`
	Storage  StorageConfig            `mapstructure:"storage"`
	HTTP     HTTPConfig               `mapstructure:"http"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RPCConfig tunes the JSON-RPC HTTP client shared by all endpoints.
type RPCConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// NetworkConfig overrides the endpoints and fee base of one network.
type NetworkConfig struct {
	BasePriorityFee uint64           `mapstructure:"base_priority_fee"`
	Endpoints       []EndpointConfig `mapstructure:"endpoints"`
}

// EndpointConfig is one statically configured RPC endpoint.
type EndpointConfig struct {
	URL      string  `mapstructure:"url"`
	WSURL    string  `mapstructure:"ws_url"`
	Name     string  `mapstructure:"name"`
	Priority int     `mapstructure:"priority"`
	Weight   float64 `mapstructure:"weight"`
}

// MonitorConfig governs endpoint probing.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CapacityTPS float64       `mapstructure:"capacity_tps"`
}

// FeeConfig tunes congestion-aware priority fees.
type FeeConfig struct {
	CapacityTPS       float64       `mapstructure:"capacity_tps"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	DefaultCongestion float64       `mapstructure:"default_congestion"`
}

// BatchConfig bounds batched transactions.
type BatchConfig struct {
	MaxInstructions int `mapstructure:"max_instructions"`
	MaxBytes        int `mapstructure:"max_bytes"`
}

// CacheConfig selects the simulation cache backing.
type CacheConfig struct {
	Size          int           `mapstructure:"size"`
	SimulationTTL time.Duration `mapstructure:"simulation_ttl"`
	// Backing is one of memory, postgres or redis.
	Backing string `mapstructure:"backing"`
}

// ApprovalConfig holds default approval thresholds.
type ApprovalConfig struct {
	AutoApproveThresholdUSD    decimal.Decimal `mapstructure:"auto_approve_threshold_usd"`
	HardwareWalletThresholdUSD decimal.Decimal `mapstructure:"hardware_wallet_threshold_usd"`
}

// ListsConfig extends the built-in program and mint lists.
type ListsConfig struct {
	AllowedPrograms []string `mapstructure:"allowed_programs"`
	DeniedPrograms  []string `mapstructure:"denied_programs"`
	DeniedMints     []string `mapstructure:"denied_mints"`
}

// PricingConfig configures the price oracle. An empty BaseURL uses the
// static price table only.
type PricingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	QuoteTTL       time.Duration `mapstructure:"quote_ttl"`
	Static         []StaticPrice `mapstructure:"static"`
}

// StaticPrice pins the USD price of a mint. Prices are a list rather than a
// map because viper lowercases map keys and mints are case-sensitive.
type StaticPrice struct {
	Mint   string          `mapstructure:"mint"`
	Symbol string          `mapstructure:"symbol"`
	Price  decimal.Decimal `mapstructure:"price"`
}

// SubmitConfig tunes submission and confirmation.
type SubmitConfig struct {
	Commitment   string        `mapstructure:"commitment"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SendAttempts uint          `mapstructure:"send_attempts"`
	SendDelay    time.Duration `mapstructure:"send_delay"`
	Websocket    bool          `mapstructure:"websocket"`
}

// HistoryConfig bounds history lookups.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// StorageConfig encapsulates durable store connectivity. Empty DSNs keep the
// corresponding state in memory.
type StorageConfig struct {
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
}

// PostgresConfig holds endpoints, history and optional cache backing.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig holds the shared cache backing.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
}

// ClickHouseConfig holds the approval audit log.
type ClickHouseConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load builds configuration from file, environment, and defaults. An empty
// path looks for config.yaml in the working directory; a missing file is not
// an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "txguard")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("rpc.timeout", "30s")
	v.SetDefault("rpc.max_retries", 3)
	v.SetDefault("rpc.retry_delay", "1s")

	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.timeout", "10s")
	v.SetDefault("monitor.capacity_tps", 5000.0)

	v.SetDefault("fee.capacity_tps", 5000.0)
	v.SetDefault("fee.refresh_interval", "30s")
	v.SetDefault("fee.default_congestion", 0.5)

	v.SetDefault("batch.max_instructions", 20)
	v.SetDefault("batch.max_bytes", 1232)

	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.simulation_ttl", "5m")
	v.SetDefault("cache.backing", "memory")

	v.SetDefault("approval.auto_approve_threshold_usd", "50")
	v.SetDefault("approval.hardware_wallet_threshold_usd", "1000")

	v.SetDefault("anomaly.high_value_usd", "1000")
	v.SetDefault("anomaly.unusual_program_threshold", 3)
	v.SetDefault("anomaly.unusual_token_threshold", 2)
	v.SetDefault("anomaly.max_new_accounts", 3)

	v.SetDefault("pricing.base_url", "https://price.jup.ag/v6")
	v.SetDefault("pricing.request_timeout", "10s")
	v.SetDefault("pricing.quote_ttl", "30s")

	v.SetDefault("submit.commitment", "confirmed")
	v.SetDefault("submit.poll_interval", "2s")
	v.SetDefault("submit.send_attempts", 3)
	v.SetDefault("submit.send_delay", "500ms")
	v.SetDefault("submit.websocket", true)

	v.SetDefault("history.limit", 100)

	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.max_conn_idle_time", "30m")
	v.SetDefault("storage.postgres.migrate", true)
	v.SetDefault("storage.clickhouse.migrate", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "60s")
	v.SetDefault("http.shutdown_timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			decimalHook(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if v == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	for name, n := range c.Networks {
		if !domain.Network(name).IsValid() {
			return fmt.Errorf("networks.%s: unsupported network", name)
		}
		for i, ep := range n.Endpoints {
			if ep.URL == "" {
				return fmt.Errorf("networks.%s.endpoints[%d].url is required", name, i)
			}
			if ep.Weight < 0 {
				return fmt.Errorf("networks.%s.endpoints[%d].weight cannot be negative", name, i)
			}
		}
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than zero")
	}
	if c.Monitor.Timeout <= 0 {
		return fmt.Errorf("monitor.timeout must be greater than zero")
	}
	if c.Fee.DefaultCongestion < 0 || c.Fee.DefaultCongestion > 1 {
		return fmt.Errorf("fee.default_congestion must be within [0, 1]")
	}
	if c.Batch.MaxInstructions <= 0 {
		return fmt.Errorf("batch.max_instructions must be greater than zero")
	}
	if c.Cache.SimulationTTL <= 0 {
		return fmt.Errorf("cache.simulation_ttl must be greater than zero")
	}
	switch c.Cache.Backing {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("cache.backing=postgres requires storage.postgres.dsn")
		}
	case "redis":
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("cache.backing=redis requires storage.redis.url")
		}
	default:
		return fmt.Errorf("cache.backing must be one of memory, postgres, redis")
	}
	if c.Approval.AutoApproveThresholdUSD.IsNegative() {
		return fmt.Errorf("approval.auto_approve_threshold_usd cannot be negative")
	}
	if c.Approval.HardwareWalletThresholdUSD.LessThan(c.Approval.AutoApproveThresholdUSD) {
		return fmt.Errorf("approval.hardware_wallet_threshold_usd must not be below auto_approve_threshold_usd")
	}
	switch c.Submit.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("submit.commitment must be one of processed, confirmed, finalized")
	}
	for i, p := range c.Pricing.Static {
		if p.Mint == "" || !p.Price.IsPositive() {
			return fmt.Errorf("pricing.static[%d] needs a mint and a positive price", i)
		}
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// Endpoints returns the configured endpoints, or nil when no network
// overrides them.
func (c *Config) Endpoints() []domain.RPCEndpoint {
	var out []domain.RPCEndpoint
	for name, n := range c.Networks {
		for _, ep := range n.Endpoints {
			weight := ep.Weight
			if weight == 0 {
				weight = 1
			}
			out = append(out, domain.RPCEndpoint{
				URL:      ep.URL,
				WSURL:    ep.WSURL,
				Name:     ep.Name,
				Network:  domain.Network(name),
				Priority: ep.Priority,
				Weight:   weight,
			})
		}
	}
	return out
}

// BasePrices returns the configured per-network base priority fees.
func (c *Config) BasePrices() map[domain.Network]uint64 {
	out := make(map[domain.Network]uint64)
	for name, n := range c.Networks {
		if n.BasePriorityFee > 0 {
			out[domain.Network(name)] = n.BasePriorityFee
		}
	}
	return out
}
