// Package store defines storage interfaces for market bars and backtest run
// history, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"mombt/internal/backtest"
	"mombt/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data. Bars are partitioned by
// market and timeframe (e.g. "us", "1Day").
type BarStore interface {
	// WriteBars persists a batch of bars, merging with what is stored.
	WriteBars(ctx context.Context, market, timeframe string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end] in
	// ascending time order.
	ReadBars(ctx context.Context, symbol, market, timeframe string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored for market/timeframe.
	ListSymbols(ctx context.Context, market, timeframe string) ([]string, error)
}

// RunRecord is a persisted backtest run summary.
type RunRecord struct {
	ID           int64            `json:"id"`
	Symbol       string           `json:"symbol"`
	Momentum     int              `json:"momentum"`
	Timeframe    string           `json:"timeframe"`
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	Amount       float64          `json:"amount"`
	Cost         float64          `json:"tc"`
	Leverage     float64          `json:"leverage"`
	Observations int              `json:"observations"`
	Trades       int              `json:"trades"`
	Summary      backtest.Summary `json:"summary"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewRunRecord builds a record from a completed run. Start and End are the
// first and last return timestamps.
func NewRunRecord(run *backtest.StrategyRun, timeframe string) *RunRecord {
	rec := &RunRecord{
		Symbol:       run.Symbol,
		Momentum:     run.Momentum,
		Timeframe:    timeframe,
		Amount:       run.Config.Amount,
		Cost:         run.Config.Cost,
		Leverage:     run.Config.Leverage,
		Observations: run.Len(),
		Trades:       run.TradeCount(),
		Summary:      run.Summary,
	}
	if n := run.Len(); n > 0 {
		rec.Start = run.Times[0]
		rec.End = run.Times[n-1]
	}
	return rec
}

// RunFilter narrows ListRuns. Zero values match everything; Limit <= 0
// means no limit.
type RunFilter struct {
	Symbol string
	Limit  int
}

// RunStore persists backtest run summaries.
type RunStore interface {
	// SaveRun inserts rec, sets rec.ID and rec.CreatedAt, and returns the ID.
	SaveRun(ctx context.Context, rec *RunRecord) (int64, error)

	// GetRun retrieves one run by ID, or ErrNotFound.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)

	// ListRuns returns runs matching f, newest first.
	ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error)
}
