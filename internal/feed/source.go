package feed

import (
	"fmt"

	"mombt/internal/backtest"
	"mombt/internal/config"
	"mombt/internal/domain"
	"mombt/internal/store"
)

// Source kinds accepted by NewSource.
const (
	SourceAlpaca = "alpaca"
	SourceStore  = "store"
	SourceCached = "cached"
	SourceCSV    = "csv"
)

// AlpacaOptionsFromConfig maps the alpaca, backtest and fetch sections of
// cfg onto AlpacaOptions.
func AlpacaOptionsFromConfig(cfg *config.Config) (AlpacaOptions, error) {
	tf, err := ParseTimeFrame(cfg.Backtest.Timeframe)
	if err != nil {
		return AlpacaOptions{}, err
	}
	return AlpacaOptions{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		Market:          domain.Market(cfg.Backtest.Market),
		TimeFrame:       tf,
		Feed:            cfg.Alpaca.Feed,
		Adjustment:      cfg.Alpaca.Adjustment,
		RateLimitPerMin: cfg.Fetch.RateLimitPerMin,
		MaxAttempts:     cfg.Fetch.MaxAttempts,
		RetryDelay:      cfg.Fetch.RetryDelay,
	}, nil
}

// NewSource builds the price source named by kind. The store and cached
// kinds read the Parquet bar cache under cfg.Storage.DataDir; csvPath is
// only used by the csv kind.
func NewSource(kind string, cfg *config.Config, csvPath string) (backtest.PriceSource, error) {
	tf, err := ParseTimeFrame(cfg.Backtest.Timeframe)
	if err != nil {
		return nil, err
	}
	market := domain.Market(cfg.Backtest.Market)
	if market != domain.MarketUS && market != domain.MarketCrypto {
		return nil, fmt.Errorf("%w: unknown market %q", backtest.ErrInvalidParameter, market)
	}
	tfKey := TimeFrameKey(tf)

	switch kind {
	case SourceAlpaca, SourceCached:
		opts, err := AlpacaOptionsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		upstream := NewAlpacaSource(opts)
		if kind == SourceAlpaca {
			return upstream, nil
		}
		return NewCachedSource(store.NewParquetStore(cfg.Storage.DataDir), upstream, market, tfKey), nil
	case SourceStore:
		return NewStoreSource(store.NewParquetStore(cfg.Storage.DataDir), market, tfKey), nil
	case SourceCSV:
		if csvPath == "" {
			return nil, fmt.Errorf("%w: csv source needs a file path", backtest.ErrInvalidParameter)
		}
		return NewCSVSource(csvPath), nil
	default:
		return nil, fmt.Errorf("%w: unknown source %q (want alpaca, store, cached or csv)", backtest.ErrInvalidParameter, kind)
	}
}
