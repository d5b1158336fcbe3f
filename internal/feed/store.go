package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mombt/internal/domain"
	"mombt/internal/store"
)

// StoreSource reads bars from the local bar cache only.
type StoreSource struct {
	store     store.BarStore
	market    domain.Market
	timeframe string
}

// NewStoreSource creates a StoreSource reading market/timeframe partitions
// of s.
func NewStoreSource(s store.BarStore, market domain.Market, timeframe string) *StoreSource {
	return &StoreSource{store: s, market: market, timeframe: timeframe}
}

// FetchBars reads cached bars for symbol over [start, end].
func (s *StoreSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := s.store.ReadBars(ctx, strings.ToUpper(symbol), string(s.market), s.timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading cached %s bars: %w", symbol, err)
	}
	return bars, nil
}

// FetchPrices implements backtest.PriceSource.
func (s *StoreSource) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	bars, err := s.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return BarsToPrices(bars), nil
}

// CachedSource serves bars from a BarStore and falls back to an upstream
// fetcher on a miss, writing what it fetched back to the store.
type CachedSource struct {
	cache     store.BarStore
	upstream  BarFetcher
	market    domain.Market
	timeframe string
	log       *slog.Logger
}

// NewCachedSource creates a read-through cache in front of upstream.
func NewCachedSource(cache store.BarStore, upstream BarFetcher, market domain.Market, timeframe string) *CachedSource {
	return &CachedSource{
		cache:     cache,
		upstream:  upstream,
		market:    market,
		timeframe: timeframe,
		log:       slog.Default().With("source", "cached", "market", string(market), "timeframe", timeframe),
	}
}

// FetchBars returns cached bars when the cache covers [start, end], and
// otherwise fetches the range upstream and merges it into the cache.
// Coverage is judged by the first and last cached bar lying within one
// calendar week of the requested bounds; a zero end is never covered.
func (s *CachedSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	cached, err := s.cache.ReadBars(ctx, symbol, string(s.market), s.timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading cache for %s: %w", symbol, err)
	}
	if covers(cached, start, end) {
		s.log.Debug("cache hit", "symbol", symbol, "bars", len(cached))
		return cached, nil
	}

	s.log.Info("cache miss", "symbol", symbol, "cached", len(cached))
	bars, err := s.upstream.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if err := s.cache.WriteBars(ctx, string(s.market), s.timeframe, bars); err != nil {
		// The data is still good; only the cache is stale.
		s.log.Warn("writing cache failed", "symbol", symbol, "err", err)
	}
	return bars, nil
}

// FetchPrices implements backtest.PriceSource.
func (s *CachedSource) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	bars, err := s.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return BarsToPrices(bars), nil
}

const coverageSlack = 7 * 24 * time.Hour

func covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 || end.IsZero() {
		return false
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	return first.Sub(start) <= coverageSlack && end.Sub(last) <= coverageSlack
}
