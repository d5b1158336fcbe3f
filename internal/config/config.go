package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mombt/internal/backtest"
)

// DefaultPath is used when MOMBT_CONFIG is unset.
const DefaultPath = "config/mombt.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for mombt.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Fetch    FetchConfig    `yaml:"fetch"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs. Feed and
// Adjustment are passed through to bar requests ("iex"/"sip",
// "raw"/"split"/"all").
type Alpaca struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	BaseURL    string `yaml:"base_url"`
	DataURL    string `yaml:"data_url"`
	Feed       string `yaml:"feed"`
	Adjustment string `yaml:"adjustment"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds simulation defaults. Zero values fall back to
// backtest.DefaultConfig; TC is a pointer so an explicit 0 is kept.
type BacktestConfig struct {
	Market    string   `yaml:"market"`
	Amount    float64  `yaml:"amount"`
	TC        *float64 `yaml:"tc"`
	Leverage  float64  `yaml:"leverage"`
	Timeframe string   `yaml:"timeframe"`
	Momentum  []int    `yaml:"momentum"`
	Workers   int      `yaml:"workers"`
}

// FetchConfig controls how market data requests are paced and retried.
type FetchConfig struct {
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file location from MOMBT_CONFIG, or DefaultPath.
func Path() string {
	if v := os.Getenv("MOMBT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns the configuration used when no file is present: defaults
// plus environment overrides.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// LoadOrDefault loads path when it exists and falls back to Default
// otherwise. Parse errors are still returned.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Alpaca.Adjustment == "" {
		cfg.Alpaca.Adjustment = "all"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Backtest.Market == "" {
		cfg.Backtest.Market = "us"
	}
	if cfg.Backtest.Timeframe == "" {
		cfg.Backtest.Timeframe = "1Day"
	}
	if len(cfg.Backtest.Momentum) == 0 {
		cfg.Backtest.Momentum = []int{1}
	}
	if cfg.Backtest.Workers <= 0 {
		cfg.Backtest.Workers = 4
	}
	if cfg.Fetch.MaxAttempts <= 0 {
		cfg.Fetch.MaxAttempts = 3
	}
	if cfg.Fetch.RetryDelay <= 0 {
		cfg.Fetch.RetryDelay = time.Second
	}
}

// BacktestConfig converts the backtest section into engine parameters.
func (c *Config) BacktestConfig() backtest.Config {
	out := backtest.DefaultConfig()
	if c.Backtest.Amount != 0 {
		out.Amount = c.Backtest.Amount
	}
	if c.Backtest.TC != nil {
		out.Cost = *c.Backtest.TC
	}
	if c.Backtest.Leverage != 0 {
		out.Leverage = c.Backtest.Leverage
	}
	return out
}
