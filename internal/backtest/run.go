package backtest

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// Curve is a cumulative performance curve with its running peak and the
// drawdown below that peak.
type Curve struct {
	Values   []float64
	Peak     []float64
	Drawdown []float64
}

func newCurve(values []float64) Curve {
	peak := RunningPeak(values)
	return Curve{
		Values:   values,
		Peak:     peak,
		Drawdown: Drawdowns(values, peak),
	}
}

// Last returns the final value of the curve, or NaN for an empty curve.
func (c Curve) Last() float64 {
	if len(c.Values) == 0 {
		return math.NaN()
	}
	return c.Values[len(c.Values)-1]
}

// MaxDrawdown returns the largest drawdown over the whole curve.
func (c Curve) MaxDrawdown() float64 {
	if len(c.Drawdown) == 0 {
		return 0
	}
	return floats.Max(c.Drawdown)
}

// StrategyRun is the complete output of one momentum simulation. Every
// slice is indexed by Times, the timestamps of the return observations.
// A run is never mutated after Engine.Run returns it.
type StrategyRun struct {
	Symbol   string
	Momentum int
	Config   Config

	Times              []time.Time
	Returns            []float64
	Positions          []Position
	StrategyReturns    []float64
	Held               []bool
	Trades             []bool
	NetStrategyReturns []float64

	ReturnCash   Curve
	StrategyCash Curve
	ReturnPct    Curve
	StrategyPct  Curve

	Summary Summary
}

// simulate composes the pipeline stages for one momentum window.
func simulate(symbol string, times []time.Time, returns []float64, momentum int, cfg Config) *StrategyRun {
	positions := MomentumPositions(returns, momentum)
	strategy, held := StrategyReturns(returns, positions, cfg.Leverage)
	trades := TradeMask(positions)
	net := NetReturns(strategy, trades, cfg.Cost)

	run := &StrategyRun{
		Symbol:             symbol,
		Momentum:           momentum,
		Config:             cfg,
		Times:              slices.Clone(times),
		Returns:            slices.Clone(returns),
		Positions:          positions,
		StrategyReturns:    strategy,
		Held:               held,
		Trades:             trades,
		NetStrategyReturns: net,
		ReturnCash:         newCurve(Compound(returns, cfg.Leverage, cfg.Amount)),
		StrategyCash:       newCurve(Compound(net, 1, cfg.Amount)),
		ReturnPct:          newCurve(Compound(returns, cfg.Leverage, 1)),
		StrategyPct:        newCurve(Compound(net, 1, 1)),
	}
	run.Summary = summarize(run)
	return run
}

// TradeCount returns the number of bars on which the position changed.
func (r *StrategyRun) TradeCount() int {
	n := 0
	for _, t := range r.Trades {
		if t {
			n++
		}
	}
	return n
}

// Row is a single observation of a run, flattened for export.
type Row struct {
	Time              time.Time
	Return            float64
	Position          Position
	StrategyReturn    float64
	Held              bool
	Trade             bool
	NetStrategyReturn float64

	ReturnCash, StrategyCash                 float64
	ReturnPct, StrategyPct                   float64
	PeakReturnCash, PeakStrategyCash         float64
	PeakReturnPct, PeakStrategyPct           float64
	DrawdownReturnCash, DrawdownStrategyCash float64
	DrawdownReturnPct, DrawdownStrategyPct   float64
}

// Len returns the number of observations in the run.
func (r *StrategyRun) Len() int { return len(r.Times) }

// Row returns observation j.
func (r *StrategyRun) Row(j int) Row {
	return Row{
		Time:              r.Times[j],
		Return:            r.Returns[j],
		Position:          r.Positions[j],
		StrategyReturn:    r.StrategyReturns[j],
		Held:              r.Held[j],
		Trade:             r.Trades[j],
		NetStrategyReturn: r.NetStrategyReturns[j],

		ReturnCash:   r.ReturnCash.Values[j],
		StrategyCash: r.StrategyCash.Values[j],
		ReturnPct:    r.ReturnPct.Values[j],
		StrategyPct:  r.StrategyPct.Values[j],

		PeakReturnCash:   r.ReturnCash.Peak[j],
		PeakStrategyCash: r.StrategyCash.Peak[j],
		PeakReturnPct:    r.ReturnPct.Peak[j],
		PeakStrategyPct:  r.StrategyPct.Peak[j],

		DrawdownReturnCash:   r.ReturnCash.Drawdown[j],
		DrawdownStrategyCash: r.StrategyCash.Drawdown[j],
		DrawdownReturnPct:    r.ReturnPct.Drawdown[j],
		DrawdownStrategyPct:  r.StrategyPct.Drawdown[j],
	}
}

// Rows returns every observation in time order.
func (r *StrategyRun) Rows() []Row {
	out := make([]Row, r.Len())
	for j := range out {
		out[j] = r.Row(j)
	}
	return out
}

// At returns the observation stamped exactly t.
func (r *StrategyRun) At(t time.Time) (Row, bool) {
	j := sort.Search(len(r.Times), func(i int) bool { return !r.Times[i].Before(t) })
	if j == len(r.Times) || !r.Times[j].Equal(t) {
		return Row{}, false
	}
	return r.Row(j), true
}

// Summary holds the scalar results of a run, each rounded to two decimals.
// The percentage fields are final cumulative multipliers (1.07 means +7%).
type Summary struct {
	AbsolutePerfCash float64 `json:"absolute_perf_cash"`
	AbsolutePerfPct  float64 `json:"absolute_perf_pct"`
	OutperfCash      float64 `json:"outperf_cash"`
	OutperfPct       float64 `json:"outperf_pct"`
	MaxDrawdownCash  float64 `json:"max_drawdown_cash"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
}

func (s Summary) finite() bool {
	for _, v := range []float64{
		s.AbsolutePerfCash, s.AbsolutePerfPct,
		s.OutperfCash, s.OutperfPct,
		s.MaxDrawdownCash, s.MaxDrawdownPct,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func summarize(r *StrategyRun) Summary {
	aperfC := r.StrategyCash.Last()
	aperfP := r.StrategyPct.Last()
	return Summary{
		AbsolutePerfCash: round2(aperfC),
		AbsolutePerfPct:  round2(aperfP),
		OutperfCash:      round2(aperfC - r.ReturnCash.Last()),
		OutperfPct:       round2(aperfP - r.ReturnPct.Last()),
		MaxDrawdownCash:  round2(r.StrategyCash.MaxDrawdown()),
		MaxDrawdownPct:   round2(r.StrategyPct.MaxDrawdown()),
	}
}

// round2 rounds half to even, matching numpy's round.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).RoundBank(2).InexactFloat64()
}
