package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"
)

type Config struct {
	// Chain and network settings
	ChainID      uint64 `json:"chain_id"`
	RegistryFile string `json:"registry_file"`
	CatalogFile  string `json:"catalog_file"`
	RPCEndpoint  string `json:"rpc_endpoint"` // point queries (http)

	// Streaming providers; when empty the registry's ws endpoints are used
	Providers []ProviderConfig `json:"providers,omitempty"`

	// Provider health and reconnect
	HeartbeatInterval   time.Duration `json:"heartbeat_interval"`
	HeartbeatFailLimit  int           `json:"heartbeat_fail_limit"`
	ReconnectBackoff    time.Duration `json:"reconnect_backoff"`
	ReconnectBackoffCap time.Duration `json:"reconnect_backoff_cap"`
	MaxReconnects       int           `json:"max_reconnects"`

	// Detection thresholds (basis points)
	SpreadThresholdBps int64 `json:"spread_threshold_bps"`
	PriceMoveLogBps    int64 `json:"price_move_log_bps"`

	// Pipeline sizing
	EventQueueSize       int `json:"event_queue_size"`
	OpportunityQueueSize int `json:"opportunity_queue_size"`

	// Trade evaluation, all amounts in smallest units
	TradeAmountIn     *big.Int `json:"trade_amount_in"`
	FlashLoanFeeBps   int64    `json:"flash_loan_fee_bps"`
	SlippageBufferBps int64    `json:"slippage_buffer_bps"`
	GasUnits          uint64   `json:"gas_units"`
	MinProfitBps      int64    `json:"min_profit_bps"`

	// Point-query rate limiting
	RPCRateLimit RateLimitConfig `json:"rpc_rate_limit"`

	// Optional opportunity feed
	Redis RedisConfig `json:"redis"`

	// Feature flags
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
}

type ProviderConfig struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Priority int    `json:"priority"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout"`
}

type RedisConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Stream  string `json:"stream"`
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RegistryFile == "" {
		errors = append(errors, "registry_file must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if c.HeartbeatInterval <= 0 {
		errors = append(errors, "heartbeat_interval must be positive")
	}
	if c.HeartbeatFailLimit <= 0 {
		errors = append(errors, "heartbeat_fail_limit must be positive")
	}
	if c.ReconnectBackoff <= 0 || c.ReconnectBackoffCap < c.ReconnectBackoff {
		errors = append(errors, "reconnect backoff must be positive and capped above the base delay")
	}
	if c.MaxReconnects <= 0 {
		errors = append(errors, "max_reconnects must be positive")
	}
	if c.SpreadThresholdBps <= 0 {
		errors = append(errors, "spread_threshold_bps must be positive")
	}
	if c.EventQueueSize <= 0 || c.OpportunityQueueSize <= 0 {
		errors = append(errors, "queue sizes must be positive")
	}
	if c.TradeAmountIn == nil || c.TradeAmountIn.Sign() <= 0 {
		errors = append(errors, "trade_amount_in must be positive")
	}
	if c.FlashLoanFeeBps < 0 || c.SlippageBufferBps < 0 {
		errors = append(errors, "fee and buffer bps must not be negative")
	}
	if c.GasUnits == 0 {
		errors = append(errors, "gas_units must be positive")
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errors = append(errors, "redis.addr must be specified when the feed is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	return nil
}

func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		cfgFile = "config.json"
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		ChainID:             137,
		RegistryFile:        "chains.yaml",
		CatalogFile:         "pairs.json",
		HeartbeatInterval:   30 * time.Second,
		HeartbeatFailLimit:  3,
		ReconnectBackoff:    time.Second,
		ReconnectBackoffCap: 30 * time.Second,
		MaxReconnects:       10,
		SpreadThresholdBps:  50, // 0.5%
		PriceMoveLogBps:     10, // 0.1%
		EventQueueSize:      1024,
		OpportunityQueueSize: 64,
		TradeAmountIn:       big.NewInt(1000000000000000000), // 1 token, 18 decimals
		FlashLoanFeeBps:     5,                               // Aave V3
		SlippageBufferBps:   20,
		GasUnits:            325000, // flash loan + two swaps
		MinProfitBps:        10,
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         20,
			WaitTimeout:       time.Second,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Stream:  "arb:opportunities",
		},
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
	}
}
