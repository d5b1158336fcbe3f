// Package backtest evaluates a momentum trading rule over a single price
// series and reports its performance against buy-and-hold.
//
// The package never fetches data itself. Prices come from a PriceSource
// supplied by the caller (see internal/feed).
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"mombt/internal/domain"
)

// PriceSource supplies a time-ordered close-price series for a symbol over
// [start, end].
type PriceSource interface {
	FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error)
}

// State is the engine lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateDataLoaded
	StateRunComplete
)

func (s State) String() string {
	switch s {
	case StateDataLoaded:
		return "data-loaded"
	case StateRunComplete:
		return "run-complete"
	default:
		return "uninitialized"
	}
}

// Engine owns one validated price series and its log returns, and runs
// momentum simulations over it. An Engine is not safe for concurrent use;
// run independent engines for parallel backtests.
type Engine struct {
	symbol  string
	cfg     Config
	prices  []domain.PricePoint
	times   []time.Time // timestamps of returns
	returns []float64

	current *StrategyRun
	state   State
	log     *slog.Logger
}

// New fetches prices for symbol over [start, end] from src and returns an
// engine ready to Run. A zero end is passed through to src unchanged.
func New(ctx context.Context, src PriceSource, symbol string, start, end time.Time, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidParameter)
	}
	if !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidParameter,
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if src == nil {
		return nil, fmt.Errorf("%w: price source is nil", ErrInvalidParameter)
	}

	prices, err := src.FetchPrices(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrDataUnavailable, symbol, err)
	}
	return NewFromSeries(symbol, prices, cfg)
}

// NewFromSeries builds an engine over an already materialised series. The
// slice is copied; later changes by the caller do not affect the engine.
func NewFromSeries(symbol string, prices []domain.PricePoint, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateSeries(prices); err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	owned := make([]domain.PricePoint, len(prices))
	copy(owned, prices)

	times := make([]time.Time, len(owned)-1)
	for i := range times {
		times[i] = owned[i+1].Time
	}

	e := &Engine{
		symbol:  symbol,
		cfg:     cfg,
		prices:  owned,
		times:   times,
		returns: LogReturns(owned),
		state:   StateDataLoaded,
		log:     slog.Default().With("component", "backtest", "symbol", symbol),
	}
	e.log.Debug("price series loaded",
		"points", len(owned),
		"first", owned[0].Time,
		"last", owned[len(owned)-1].Time,
	)
	return e, nil
}

func validateSeries(prices []domain.PricePoint) error {
	if len(prices) == 0 {
		return fmt.Errorf("%w: no price rows", ErrDataUnavailable)
	}
	for i, p := range prices {
		if !(p.Close > 0) || math.IsInf(p.Close, 0) {
			return fmt.Errorf("%w: non-positive price %v at %s", ErrDataUnavailable, p.Close, p.Time.Format(time.RFC3339))
		}
		if i > 0 && !p.Time.After(prices[i-1].Time) {
			return fmt.Errorf("%w: timestamps not strictly increasing at %s", ErrDataUnavailable, p.Time.Format(time.RFC3339))
		}
	}
	if len(prices) < 2 {
		return fmt.Errorf("%w: need at least 2 prices, got %d", ErrInsufficientData, len(prices))
	}
	return nil
}

// Run simulates the momentum strategy with the given window, replaces the
// current run, and returns its summary. On error the current run is left
// as it was.
func (e *Engine) Run(momentum int) (Summary, error) {
	if momentum < 1 {
		return Summary{}, fmt.Errorf("%w: momentum must be >= 1, got %d", ErrInvalidParameter, momentum)
	}
	if momentum > len(e.returns) {
		return Summary{}, fmt.Errorf("%w: momentum %d exceeds %d return observations",
			ErrInsufficientData, momentum, len(e.returns))
	}

	run := simulate(e.symbol, e.times, e.returns, momentum, e.cfg)
	if !run.Summary.finite() {
		return Summary{}, fmt.Errorf("%w: amount %v with leverage %v overflows the performance curves",
			ErrInvalidParameter, e.cfg.Amount, e.cfg.Leverage)
	}
	e.current = run
	e.state = StateRunComplete

	e.log.Debug("run complete",
		"momentum", momentum,
		"trades", run.TradeCount(),
		"aperf_c", run.Summary.AbsolutePerfCash,
		"operf_c", run.Summary.OutperfCash,
	)
	return run.Summary, nil
}

// Fork returns a new engine over the same loaded series with no current
// run. The series is shared read-only, so forks may run concurrently with
// each other and with e.
func (e *Engine) Fork() *Engine {
	return &Engine{
		symbol:  e.symbol,
		cfg:     e.cfg,
		prices:  e.prices,
		times:   e.times,
		returns: e.returns,
		state:   StateDataLoaded,
		log:     e.log,
	}
}

// CurrentRun returns the most recent successful run, or nil before the
// first Run.
func (e *Engine) CurrentRun() *StrategyRun { return e.current }

// State returns the engine lifecycle state.
func (e *Engine) State() State { return e.state }

// Symbol returns the symbol the engine was built for.
func (e *Engine) Symbol() string { return e.symbol }

// Config returns the simulation parameters.
func (e *Engine) Config() Config { return e.cfg }

// Observations returns the number of usable return observations, which is
// also the largest valid momentum window.
func (e *Engine) Observations() int { return len(e.returns) }
