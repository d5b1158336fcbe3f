// Package feed supplies price series to the backtest engine: live from the
// Alpaca market-data API, from the local Parquet bar cache, or from a CSV
// file.
package feed

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"mombt/internal/backtest"
	"mombt/internal/domain"
)

// Compile-time interface checks.
var (
	_ backtest.PriceSource = (*AlpacaSource)(nil)
	_ backtest.PriceSource = (*StoreSource)(nil)
	_ backtest.PriceSource = (*CachedSource)(nil)
	_ backtest.PriceSource = (*CSVSource)(nil)

	_ BarFetcher = (*AlpacaSource)(nil)
	_ BarFetcher = (*StoreSource)(nil)
)

// BarFetcher returns OHLCV bars for symbol over [start, end].
type BarFetcher interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// BarsToPrices converts bars to close-price points in the order given.
// Out-of-order or duplicate bars are left for the engine to reject.
func BarsToPrices(bars []domain.Bar) []domain.PricePoint {
	out := make([]domain.PricePoint, len(bars))
	for i, b := range bars {
		out[i] = domain.PricePoint{Time: b.Timestamp, Close: b.Close}
	}
	return out
}

// ---------------------------------------------------------------------------
// Timeframes
// ---------------------------------------------------------------------------

var timeFrameRe = regexp.MustCompile(`^(\d*)\s*([A-Za-z]+)$`)

// ParseTimeFrame parses a bar granularity. Alpaca names ("1Day", "4Hour",
// "15Min", "1Week", "1Month") and Oanda-style codes ("D", "H4", "M15",
// "W", "M") are accepted.
func ParseTimeFrame(s string) (marketdata.TimeFrame, error) {
	s = strings.TrimSpace(s)
	if tf, ok := oandaTimeFrame(s); ok {
		return tf, nil
	}

	m := timeFrameRe.FindStringSubmatch(s)
	if m == nil {
		return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v < 1 {
			return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
		}
		n = v
	}

	var unit marketdata.TimeFrameUnit
	switch strings.ToLower(m[2]) {
	case "min", "mins", "minute", "minutes", "t":
		unit = marketdata.Min
	case "hour", "hours", "h":
		unit = marketdata.Hour
	case "day", "days", "d":
		unit = marketdata.Day
	case "week", "weeks", "w":
		unit = marketdata.Week
	case "month", "months", "mo":
		unit = marketdata.Month
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe unit in %q", s)
	}
	return marketdata.NewTimeFrame(n, unit), nil
}

// oandaTimeFrame handles granularity codes such as "H4" or "M15", where the
// unit letter comes first.
func oandaTimeFrame(s string) (marketdata.TimeFrame, bool) {
	switch s {
	case "D":
		return marketdata.NewTimeFrame(1, marketdata.Day), true
	case "W":
		return marketdata.NewTimeFrame(1, marketdata.Week), true
	case "M":
		return marketdata.NewTimeFrame(1, marketdata.Month), true
	}
	if len(s) < 2 {
		return marketdata.TimeFrame{}, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 1 {
		return marketdata.TimeFrame{}, false
	}
	switch s[0] {
	case 'M':
		return marketdata.NewTimeFrame(n, marketdata.Min), true
	case 'H':
		return marketdata.NewTimeFrame(n, marketdata.Hour), true
	}
	return marketdata.TimeFrame{}, false
}

// TimeFrameKey returns the canonical name of tf ("1Day", "4Hour"), used as
// the cache partition.
func TimeFrameKey(tf marketdata.TimeFrame) string {
	return fmt.Sprintf("%d%s", tf.N, tf.Unit)
}
