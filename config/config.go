package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the sniper.
type Config struct {
	Trading TradingConfig `yaml:"trading"`
	Feed    FeedConfig    `yaml:"feed"`
	Swapd   SwapdConfig   `yaml:"swapd"`
	Storage StorageConfig `yaml:"storage"`
	Paper   PaperConfig   `yaml:"paper"`
	Log     LogConfig     `yaml:"log"`
}

// TradingConfig controls entries, exits, and the execution pipeline.
type TradingConfig struct {
	InitialBuyAmount           float64 `yaml:"initial_buy_amount"`  // SOL per entry
	MaxSlippagePct             float64 `yaml:"max_slippage_pct"`
	ExitProfitThreshold        float64 `yaml:"exit_profit_threshold"` // e.g. 0.10 = +10%
	StopLossThreshold          float64 `yaml:"stop_loss_threshold"`   // e.g. -0.10 = -10%
	ConsecutiveUpdatesRequired int     `yaml:"consecutive_updates_required"`
	MaxConcurrentMonitors      int     `yaml:"max_concurrent_monitors"`
	MaxTradesPerHour           int     `yaml:"max_trades_per_hour"`      // 0 disables the cap
	PerPoolCooldownSeconds     int     `yaml:"per_pool_cooldown_seconds"` // 0 disables cooldown
	MaxPoolAgeMs               int     `yaml:"max_pool_age_ms"`
	PriceWaitTimeoutSeconds    int     `yaml:"price_wait_timeout_seconds"`
	MaxMonitorTimeSeconds      int     `yaml:"max_monitor_time_seconds"`
	QueueWorkers               int     `yaml:"queue_workers"`
	QueueCapacity              int     `yaml:"queue_capacity"`
	SubmitTimeoutSeconds       int     `yaml:"submit_timeout_seconds"`
	LiveTrading                bool    `yaml:"live_trading"`
}

// FeedConfig points at the market-data feed.
type FeedConfig struct {
	URL                   string `yaml:"url"`
	ReconnectDelaySeconds int    `yaml:"reconnect_delay_seconds"`
	ReconnectDelayMaxSecs int    `yaml:"reconnect_delay_max_seconds"`
}

// SwapdConfig points at the local swap execution service (live mode).
type SwapdConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// StorageConfig controls where the ledger lives.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// PaperConfig controls the simulated ledger.
type PaperConfig struct {
	InitialBalanceSOL float64 `yaml:"initial_balance_sol"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config and the .env file if present. Environment
// variables override the YAML for mode and thresholds so deployments
// can flip live trading without editing the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if cfg.Trading.StopLossThreshold >= 0 {
		return nil, fmt.Errorf("config.Load: stop_loss_threshold must be negative, got %v", cfg.Trading.StopLossThreshold)
	}
	return &cfg, nil
}

func (c *Config) PerPoolCooldown() time.Duration {
	return time.Duration(c.Trading.PerPoolCooldownSeconds) * time.Second
}

func (c *Config) PriceWaitTimeout() time.Duration {
	return time.Duration(c.Trading.PriceWaitTimeoutSeconds) * time.Second
}

func (c *Config) MaxMonitorTime() time.Duration {
	return time.Duration(c.Trading.MaxMonitorTimeSeconds) * time.Second
}

func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Trading.SubmitTimeoutSeconds) * time.Second
}

func (c *Config) MaxPoolAge() time.Duration {
	return time.Duration(c.Trading.MaxPoolAgeMs) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIVE_TRADING"); v != "" {
		cfg.Trading.LiveTrading = v == "1" || v == "true"
	}
	if v, ok := envFloat("INITIAL_BUY"); ok {
		cfg.Trading.InitialBuyAmount = v
	}
	if v, ok := envFloat("EXIT_PROFIT_THRESHOLD"); ok {
		cfg.Trading.ExitProfitThreshold = v
	}
	if v, ok := envFloat("STOP_LOSS_THRESHOLD"); ok {
		cfg.Trading.StopLossThreshold = v
	}
	if v, ok := envInt("CONSECUTIVE_UPDATES"); ok {
		cfg.Trading.ConsecutiveUpdatesRequired = v
	}
	if v, ok := envInt("MAX_TRADES_PER_HOUR"); ok {
		cfg.Trading.MaxTradesPerHour = v
	}
	if v := os.Getenv("SERVER_URL"); v != "" {
		cfg.Feed.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	t := &cfg.Trading
	if t.InitialBuyAmount <= 0 {
		t.InitialBuyAmount = 0.005
	}
	if t.MaxSlippagePct <= 0 {
		t.MaxSlippagePct = 5
	}
	if t.ExitProfitThreshold <= 0 {
		t.ExitProfitThreshold = 0.10
	}
	if t.StopLossThreshold == 0 {
		t.StopLossThreshold = -0.10
	}
	if t.ConsecutiveUpdatesRequired <= 0 {
		t.ConsecutiveUpdatesRequired = 3
	}
	if t.MaxConcurrentMonitors <= 0 {
		t.MaxConcurrentMonitors = 50
	}
	if t.MaxTradesPerHour < 0 {
		t.MaxTradesPerHour = 10
	}
	if t.PerPoolCooldownSeconds < 0 {
		t.PerPoolCooldownSeconds = 300
	}
	if t.MaxPoolAgeMs <= 0 {
		t.MaxPoolAgeMs = 5000
	}
	if t.PriceWaitTimeoutSeconds <= 0 {
		t.PriceWaitTimeoutSeconds = 30
	}
	if t.MaxMonitorTimeSeconds <= 0 {
		t.MaxMonitorTimeSeconds = 300
	}
	if t.QueueWorkers <= 0 {
		t.QueueWorkers = 2
	}
	if t.QueueCapacity <= 0 {
		t.QueueCapacity = 64
	}
	if t.SubmitTimeoutSeconds <= 0 {
		t.SubmitTimeoutSeconds = 45
	}

	if cfg.Feed.URL == "" {
		cfg.Feed.URL = "ws://localhost:5001/ws"
	}
	if cfg.Feed.ReconnectDelaySeconds <= 0 {
		cfg.Feed.ReconnectDelaySeconds = 5
	}
	if cfg.Feed.ReconnectDelayMaxSecs <= 0 {
		cfg.Feed.ReconnectDelayMaxSecs = 30
	}

	if cfg.Swapd.BaseURL == "" {
		cfg.Swapd.BaseURL = "http://localhost:8899"
	}
	if cfg.Swapd.TimeoutSeconds <= 0 {
		cfg.Swapd.TimeoutSeconds = 60
	}
	if cfg.Swapd.RequestsPerSec <= 0 {
		cfg.Swapd.RequestsPerSec = 2
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "trading_history.sqlite"
	}
	if cfg.Paper.InitialBalanceSOL <= 0 {
		cfg.Paper.InitialBalanceSOL = 10.0
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
