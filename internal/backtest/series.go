package backtest

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mombt/internal/domain"
)

// Each stage of the simulation is a pure function over immutable slices.
// Engine.Run composes them in order:
//
//	LogReturns -> MomentumPositions -> StrategyReturns -> TradeMask
//	-> NetReturns -> Compound -> RunningPeak -> Drawdowns
//
// Series derived from returns share the returns index: observation j
// corresponds to prices[j+1].

// Position is the directional stance held after a bar closes.
type Position int8

const (
	Short Position = -1
	Flat  Position = 0
	Long  Position = 1

	// NoPosition marks bars before the momentum window has filled.
	NoPosition Position = math.MinInt8
)

// Defined reports whether p is one of Short, Flat or Long.
func (p Position) Defined() bool { return p != NoPosition }

func (p Position) String() string {
	switch p {
	case Short:
		return "short"
	case Flat:
		return "flat"
	case Long:
		return "long"
	default:
		return "none"
	}
}

// LogReturns returns ln(close[i]/close[i-1]) for i >= 1. The result has one
// element fewer than prices; an input shorter than two points yields nil.
func LogReturns(prices []domain.PricePoint) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out[i-1] = math.Log(prices[i].Close / prices[i-1].Close)
	}
	return out
}

// MomentumPositions returns the sign of the trailing mean of the last window
// returns ending at each observation. Observations before the window fills
// are NoPosition, so position j depends only on returns[j-window+1..j].
func MomentumPositions(returns []float64, window int) []Position {
	out := make([]Position, len(returns))
	for j := range out {
		if window < 1 || j < window-1 {
			out[j] = NoPosition
			continue
		}
		out[j] = sign(stat.Mean(returns[j-window+1:j+1], nil))
	}
	return out
}

func sign(v float64) Position {
	switch {
	case v > 0:
		return Long
	case v < 0:
		return Short
	default:
		return Flat
	}
}

// StrategyReturns realises the previous bar's position against the current
// bar's return, scaled by leverage. held[j] is false where no position was
// carried into bar j; those bars contribute a neutral zero.
func StrategyReturns(returns []float64, positions []Position, leverage float64) (strategy []float64, held []bool) {
	strategy = make([]float64, len(returns))
	held = make([]bool, len(returns))
	for j := 1; j < len(returns); j++ {
		prev := positions[j-1]
		if !prev.Defined() {
			continue
		}
		strategy[j] = leverage * float64(prev) * returns[j]
		held[j] = true
	}
	return strategy, held
}

// TradeMask marks bars where the position differs from the previous bar's.
// The first bar, and any bar adjacent to NoPosition, is never a trade.
func TradeMask(positions []Position) []bool {
	out := make([]bool, len(positions))
	for j := 1; j < len(positions); j++ {
		prev, cur := positions[j-1], positions[j]
		out[j] = prev.Defined() && cur.Defined() && prev != cur
	}
	return out
}

// NetReturns subtracts cost from the strategy return on trade bars.
func NetReturns(strategy []float64, trades []bool, cost float64) []float64 {
	out := make([]float64, len(strategy))
	for j, r := range strategy {
		if trades[j] {
			r -= cost
		}
		out[j] = r
	}
	return out
}

// Compound turns log-returns into a cumulative curve:
// base * exp(scale * cumsum(returns)).
func Compound(returns []float64, scale, base float64) []float64 {
	if len(returns) == 0 {
		return nil
	}
	out := floats.CumSum(make([]float64, len(returns)), returns)
	for j, c := range out {
		out[j] = base * math.Exp(scale*c)
	}
	return out
}

// RunningPeak returns the cumulative maximum of values.
func RunningPeak(values []float64) []float64 {
	out := make([]float64, len(values))
	for j, v := range values {
		if j == 0 || v > out[j-1] {
			out[j] = v
			continue
		}
		out[j] = out[j-1]
	}
	return out
}

// Drawdowns returns peak - value element-wise. Both slices must have equal
// length.
func Drawdowns(values, peak []float64) []float64 {
	out := make([]float64, len(values))
	floats.SubTo(out, peak, values)
	return out
}
