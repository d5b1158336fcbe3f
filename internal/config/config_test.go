package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mombt.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_API_KEY", "ALPACA_API_SECRET",
		"ALPACA_BASE_URL", "ALPACA_DATA_URL", "LOG_LEVEL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/mombt/data"
  sqlite_path: "/tmp/mombt/runs.db"
server:
  host: "0.0.0.0"
  port: 8080
  grpc_port: 9090
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
  feed: "sip"
  adjustment: "split"
logging:
  level: "debug"
  format: "text"
backtest:
  amount: 5000
  tc: 0.002
  leverage: 2
  timeframe: "4Hour"
  momentum: [20, 40, 60]
  workers: 8
fetch:
  rate_limit_per_min: 200
  max_attempts: 5
  retry_delay: 2s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/mombt/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/mombt/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/mombt/runs.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/mombt/runs.db")
	}

	// -- Server --
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server ports = %d/%d, want 8080/9090", cfg.Server.Port, cfg.Server.GRPCPort)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.Feed != "sip" || cfg.Alpaca.Adjustment != "split" {
		t.Errorf("Alpaca feed/adjustment = %q/%q, want sip/split", cfg.Alpaca.Feed, cfg.Alpaca.Adjustment)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Backtest --
	if cfg.Backtest.Timeframe != "4Hour" {
		t.Errorf("Backtest.Timeframe = %q, want 4Hour", cfg.Backtest.Timeframe)
	}
	if len(cfg.Backtest.Momentum) != 3 || cfg.Backtest.Momentum[2] != 60 {
		t.Errorf("Backtest.Momentum = %v, want [20 40 60]", cfg.Backtest.Momentum)
	}
	if cfg.Backtest.Workers != 8 {
		t.Errorf("Backtest.Workers = %d, want 8", cfg.Backtest.Workers)
	}

	bc := cfg.BacktestConfig()
	if bc.Amount != 5000 || bc.Cost != 0.002 || bc.Leverage != 2 {
		t.Errorf("BacktestConfig() = %+v", bc)
	}

	// -- Fetch --
	if cfg.Fetch.RateLimitPerMin != 200 || cfg.Fetch.MaxAttempts != 5 {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.Fetch.RetryDelay != 2*time.Second {
		t.Errorf("Fetch.RetryDelay = %v, want 2s", cfg.Fetch.RetryDelay)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "storage:\n  data_dir: /d\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Backtest.Timeframe != "1Day" {
		t.Errorf("Backtest.Timeframe = %q, want 1Day", cfg.Backtest.Timeframe)
	}
	if cfg.Backtest.Market != "us" {
		t.Errorf("Backtest.Market = %q, want us", cfg.Backtest.Market)
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want iex", cfg.Alpaca.Feed)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("Fetch.MaxAttempts = %d, want 3", cfg.Fetch.MaxAttempts)
	}

	bc := cfg.BacktestConfig()
	if bc.Amount != 10000 || bc.Cost != 0.001 || bc.Leverage != 1 {
		t.Errorf("BacktestConfig() = %+v, want defaults", bc)
	}
}

func TestExplicitZeroCost(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "backtest:\n  tc: 0\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if got := cfg.BacktestConfig().Cost; got != 0 {
		t.Errorf("Cost = %v, want explicit 0", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}

	// The SDK's canonical names win over ours.
	t.Setenv("APCA_API_KEY_ID", "apca-key")
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Alpaca.APIKey != "apca-key" {
		t.Errorf("Alpaca.APIKey = %q, want apca-key", cfg.Alpaca.APIKey)
	}
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Storage.DataDir != "data" || cfg.Server.Port != 8080 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	if _, err := LoadOrDefault(writeConfig(t, "backtest: [unclosed")); err == nil {
		t.Error("LoadOrDefault should report a parse error")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("MOMBT_CONFIG", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("MOMBT_CONFIG", "/etc/mombt.yaml")
	if got := Path(); got != "/etc/mombt.yaml" {
		t.Errorf("Path() = %q, want /etc/mombt.yaml", got)
	}
}

func TestLoadExampleConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	if err != nil {
		t.Fatalf("Load(example): %v", err)
	}
	if cfg.Server.GRPCPort != 9090 || cfg.Fetch.RetryDelay != 2*time.Second {
		t.Errorf("server/fetch = %+v %+v", cfg.Server, cfg.Fetch)
	}
	if len(cfg.Backtest.Momentum) != 3 || cfg.Backtest.Momentum[2] != 20 {
		t.Errorf("momentum = %v, want [1 5 20]", cfg.Backtest.Momentum)
	}
	if bt := cfg.BacktestConfig(); bt.Validate() != nil {
		t.Errorf("example backtest config invalid: %v", bt.Validate())
	}
}
