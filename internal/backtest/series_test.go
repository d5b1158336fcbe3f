package backtest

import (
	"math"
	"testing"
	"time"

	"mombt/internal/domain"
)

// daily builds a price series with one point per day starting 2024-01-01.
func daily(closes ...float64) []domain.PricePoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = domain.PricePoint{Time: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestLogReturns(t *testing.T) {
	got := LogReturns(daily(100, 102, 101))
	want := []float64{math.Log(102.0 / 100), math.Log(101.0 / 102)}
	if len(got) != len(want) {
		t.Fatalf("LogReturns returned %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("returns[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if r := LogReturns(daily(100)); r != nil {
		t.Errorf("LogReturns of one point = %v, want nil", r)
	}
}

func TestMomentumPositions(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.04, -0.01, -0.05}

	tests := []struct {
		window int
		want   []Position
	}{
		{1, []Position{Long, Short, Long, Short, Short}},
		{2, []Position{NoPosition, Long, Long, Long, Short}},
		{3, []Position{NoPosition, NoPosition, Long, Long, Short}},
		{5, []Position{NoPosition, NoPosition, NoPosition, NoPosition, Short}},
		{6, []Position{NoPosition, NoPosition, NoPosition, NoPosition, NoPosition}},
	}
	for _, tt := range tests {
		got := MomentumPositions(returns, tt.window)
		for j := range tt.want {
			if got[j] != tt.want[j] {
				t.Errorf("window %d: position[%d] = %v, want %v", tt.window, j, got[j], tt.want[j])
			}
		}
	}
}

func TestMomentumPositionsZeroMeanIsFlat(t *testing.T) {
	got := MomentumPositions([]float64{0.5, -0.5}, 2)
	if got[1] != Flat {
		t.Errorf("position[1] = %v, want flat", got[1])
	}
}

func TestPositionOnlySeesTrailingWindow(t *testing.T) {
	returns := []float64{0.01, -0.03, 0.02, 0.01, -0.02, 0.03}
	base := MomentumPositions(returns, 2)

	// Changing returns[4] must not move any position before index 4.
	changed := append([]float64(nil), returns...)
	changed[4] = 5
	moved := MomentumPositions(changed, 2)
	for j := 0; j < 4; j++ {
		if base[j] != moved[j] {
			t.Errorf("position[%d] changed from %v to %v after editing returns[4]", j, base[j], moved[j])
		}
	}
}

func TestStrategyReturnsLagOneBar(t *testing.T) {
	returns := []float64{0.01, -0.03, 0.02, 0.01, -0.02}
	positions := MomentumPositions(returns, 1)
	strategy, held := StrategyReturns(returns, positions, 1)

	if held[0] || strategy[0] != 0 {
		t.Errorf("bar 0: held=%v strategy=%v, want not held and 0", held[0], strategy[0])
	}
	for j := 1; j < len(returns); j++ {
		want := float64(positions[j-1]) * returns[j]
		if !held[j] {
			t.Errorf("bar %d not held", j)
		}
		if strategy[j] != want {
			t.Errorf("strategy[%d] = %v, want position[%d]*returns[%d] = %v", j, strategy[j], j-1, j, want)
		}
	}
}

func TestStrategyReturnsLeverage(t *testing.T) {
	returns := []float64{0.01, 0.02, -0.04}
	positions := []Position{Long, Short, Long}
	strategy, _ := StrategyReturns(returns, positions, 3)

	if want := 3 * 0.02; !almostEqual(strategy[1], want) {
		t.Errorf("strategy[1] = %v, want %v", strategy[1], want)
	}
	if want := 3 * -1 * -0.04; !almostEqual(strategy[2], want) {
		t.Errorf("strategy[2] = %v, want %v", strategy[2], want)
	}
}

func TestTradeMask(t *testing.T) {
	positions := []Position{NoPosition, Long, Short, Short, Flat, Long}
	want := []bool{false, false, true, false, true, true}

	got := TradeMask(positions)
	for j := range want {
		if got[j] != want[j] {
			t.Errorf("trade[%d] = %v, want %v", j, got[j], want[j])
		}
	}
}

func TestNetReturnsConservesCost(t *testing.T) {
	returns := LogReturns(daily(100, 95, 97, 92, 99, 104, 101, 107, 103, 98))
	positions := MomentumPositions(returns, 1)
	strategy, _ := StrategyReturns(returns, positions, 1)
	trades := TradeMask(positions)
	const cost = 0.0025

	net := NetReturns(strategy, trades, cost)

	var sumNet, sumStrategy float64
	n := 0
	for j := range net {
		sumNet += net[j]
		sumStrategy += strategy[j]
		if trades[j] {
			n++
		}
	}
	if n == 0 {
		t.Fatal("scenario produced no trades")
	}
	if want := sumStrategy - cost*float64(n); !almostEqual(sumNet, want) {
		t.Errorf("sum(net) = %v, want sum(strategy) - tc*trades = %v", sumNet, want)
	}
}

func TestCompound(t *testing.T) {
	returns := []float64{math.Log(1.1), math.Log(0.5)}
	got := Compound(returns, 1, 200)
	if !almostEqual(got[0], 220) || !almostEqual(got[1], 110) {
		t.Errorf("Compound = %v, want [220 110]", got)
	}

	levered := Compound(returns, 2, 1)
	if !almostEqual(levered[0], 1.21) {
		t.Errorf("Compound with leverage 2 = %v, want 1.21 first", levered)
	}

	if Compound(nil, 1, 1) != nil {
		t.Error("Compound(nil) should be nil")
	}
}

func TestDrawdowns(t *testing.T) {
	values := []float64{100, 105, 103, 108, 90, 95}
	peak := RunningPeak(values)
	dd := Drawdowns(values, peak)

	wantPeak := []float64{100, 105, 105, 108, 108, 108}
	wantDD := []float64{0, 0, 2, 0, 18, 13}
	for j := range values {
		if peak[j] != wantPeak[j] {
			t.Errorf("peak[%d] = %v, want %v", j, peak[j], wantPeak[j])
		}
		if dd[j] != wantDD[j] {
			t.Errorf("drawdown[%d] = %v, want %v", j, dd[j], wantDD[j])
		}
		if dd[j] < 0 {
			t.Errorf("drawdown[%d] = %v is negative", j, dd[j])
		}
	}
}
