package backtest

import (
	"fmt"
	"math"
)

// Config holds the per-engine simulation parameters.
type Config struct {
	// Amount is the initial cash invested. Must be > 0.
	Amount float64
	// Cost is the proportional transaction cost charged on every bar where
	// the position changes (e.g. 0.001 = 0.1%). Must be >= 0.
	Cost float64
	// Leverage scales log-returns before compounding. Must be > 0.
	Leverage float64
}

// DefaultConfig returns the conventional defaults: 10000 cash, 0.1% cost per
// trade, no leverage.
func DefaultConfig() Config {
	return Config{
		Amount:   10000,
		Cost:     0.001,
		Leverage: 1,
	}
}

// Validate reports the first out-of-range field, wrapped in
// ErrInvalidParameter.
func (c Config) Validate() error {
	switch {
	case !(c.Amount > 0) || math.IsInf(c.Amount, 0):
		return fmt.Errorf("%w: amount must be a positive finite number, got %v", ErrInvalidParameter, c.Amount)
	case !(c.Cost >= 0) || math.IsInf(c.Cost, 0):
		return fmt.Errorf("%w: transaction cost must be >= 0, got %v", ErrInvalidParameter, c.Cost)
	case !(c.Leverage > 0) || math.IsInf(c.Leverage, 0):
		return fmt.Errorf("%w: leverage must be a positive finite number, got %v", ErrInvalidParameter, c.Leverage)
	}
	return nil
}
