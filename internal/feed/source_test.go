package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"mombt/internal/backtest"
	"mombt/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

func TestAlpacaOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alpaca.APIKey = "key"
	cfg.Backtest.Timeframe = "H4"
	cfg.Fetch.RateLimitPerMin = 180
	cfg.Fetch.RetryDelay = 2 * time.Second

	opts, err := AlpacaOptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("AlpacaOptionsFromConfig: %v", err)
	}
	if opts.APIKey != "key" || opts.Feed != "iex" || opts.Adjustment != "all" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.TimeFrame != marketdata.NewTimeFrame(4, marketdata.Hour) {
		t.Errorf("timeframe = %v, want 4Hour", opts.TimeFrame)
	}
	if opts.RateLimitPerMin != 180 || opts.MaxAttempts != 3 || opts.RetryDelay != 2*time.Second {
		t.Errorf("fetch options = %d %d %v", opts.RateLimitPerMin, opts.MaxAttempts, opts.RetryDelay)
	}

	cfg.Backtest.Timeframe = "fortnight"
	if _, err := AlpacaOptionsFromConfig(cfg); err == nil {
		t.Error("expected error for unknown timeframe")
	}
}

func TestNewSource(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		kind string
		csv  string
		want any
	}{
		{SourceAlpaca, "", &AlpacaSource{}},
		{SourceCached, "", &CachedSource{}},
		{SourceStore, "", &StoreSource{}},
		{SourceCSV, "prices.csv", &CSVSource{}},
	}
	for _, tt := range tests {
		src, err := NewSource(tt.kind, cfg, tt.csv)
		if err != nil {
			t.Errorf("NewSource(%q): %v", tt.kind, err)
			continue
		}
		var ok bool
		switch tt.want.(type) {
		case *AlpacaSource:
			_, ok = src.(*AlpacaSource)
		case *CachedSource:
			_, ok = src.(*CachedSource)
		case *StoreSource:
			_, ok = src.(*StoreSource)
		case *CSVSource:
			_, ok = src.(*CSVSource)
		}
		if !ok {
			t.Errorf("NewSource(%q) = %T, want %T", tt.kind, src, tt.want)
		}
	}
}

func TestNewSourceErrors(t *testing.T) {
	cfg := testConfig(t)

	if _, err := NewSource("ftp", cfg, ""); !errors.Is(err, backtest.ErrInvalidParameter) {
		t.Errorf("unknown kind: err = %v", err)
	}
	if _, err := NewSource(SourceCSV, cfg, ""); !errors.Is(err, backtest.ErrInvalidParameter) {
		t.Errorf("csv without path: err = %v", err)
	}

	cfg.Backtest.Market = "forex"
	if _, err := NewSource(SourceStore, cfg, ""); !errors.Is(err, backtest.ErrInvalidParameter) {
		t.Errorf("unknown market: err = %v", err)
	}
}
