package batch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mombt/internal/backtest"
	"mombt/internal/domain"
	"mombt/internal/store"
)

var errNoSuchSymbol = errors.New("no such symbol")

type countingSource struct {
	mu     sync.Mutex
	calls  map[string]int
	series map[string][]float64
}

func newCountingSource() *countingSource {
	return &countingSource{
		calls: make(map[string]int),
		series: map[string][]float64{
			"SPY": {100, 102, 101, 105, 104, 108},
			"QQQ": {100, 95, 97, 92, 99, 104, 101, 107, 103, 98},
		},
	}
}

func (s *countingSource) FetchPrices(_ context.Context, symbol string, start, _ time.Time) ([]domain.PricePoint, error) {
	s.mu.Lock()
	s.calls[symbol]++
	s.mu.Unlock()

	closes, ok := s.series[symbol]
	if !ok {
		return nil, errNoSuchSymbol
	}
	out := make([]domain.PricePoint, len(closes))
	for i, c := range closes {
		out[i] = domain.PricePoint{Time: start.AddDate(0, 0, i), Close: c}
	}
	return out, nil
}

func TestRunnerRun(t *testing.T) {
	src := newCountingSource()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	jobs := []Job{
		{Symbol: "SPY", Momentum: 2, Start: start, End: end},
		{Symbol: "QQQ", Momentum: 3, Start: start, End: end},
		{Symbol: "SPY", Momentum: 1, Start: start, End: end},
		{Symbol: "NOPE", Momentum: 1, Start: start, End: end},
		{Symbol: "SPY", Momentum: 99, Start: start, End: end},
	}

	results, err := NewRunner(src, backtest.DefaultConfig(), WithWorkers(3)).Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}

	for sym, n := range src.calls {
		if n != 1 {
			t.Errorf("%s fetched %d times, want 1", sym, n)
		}
	}

	for i, res := range results {
		if res.Job != jobs[i] {
			t.Errorf("result %d is for %+v, want %+v", i, res.Job, jobs[i])
		}
	}

	if results[0].Err != nil || results[0].Summary.AbsolutePerfCash != 10693.07 {
		t.Errorf("SPY m=2 = %+v, %v", results[0].Summary, results[0].Err)
	}
	if results[1].Err != nil || results[1].Summary.AbsolutePerfCash != 10141.38 {
		t.Errorf("QQQ m=3 = %+v, %v", results[1].Summary, results[1].Err)
	}
	if results[2].Err != nil || results[2].Run == nil || results[2].Run.Momentum != 1 {
		t.Errorf("SPY m=1 result = %+v", results[2])
	}
	if !errors.Is(results[3].Err, backtest.ErrDataUnavailable) || !errors.Is(results[3].Err, errNoSuchSymbol) {
		t.Errorf("NOPE error = %v, want data unavailable wrapping the source error", results[3].Err)
	}
	if !errors.Is(results[4].Err, backtest.ErrInsufficientData) {
		t.Errorf("SPY m=99 error = %v, want ErrInsufficientData", results[4].Err)
	}
}

func TestRunnerPersists(t *testing.T) {
	dir := t.TempDir()
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer runs.Close()
	ps := store.NewParquetStore(dir)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs := Jobs([]string{"SPY", "QQQ"}, []int{1, 2}, start, start.AddDate(0, 1, 0))

	r := NewRunner(newCountingSource(), backtest.DefaultConfig(),
		WithRunStore(runs), WithExporter(ps), WithTimeframe("1Day"), WithWorkers(2))
	results, err := r.Run(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("%s m=%d: %v", res.Job.Symbol, res.Job.Momentum, res.Err)
		}
		if res.RunID == 0 {
			t.Errorf("%s m=%d not saved", res.Job.Symbol, res.Job.Momentum)
		}
		if !strings.HasSuffix(res.Export, ".parquet") {
			t.Errorf("%s m=%d export path = %q", res.Job.Symbol, res.Job.Momentum, res.Export)
		}
	}

	saved, err := runs.ListRuns(context.Background(), store.RunFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 4 {
		t.Errorf("saved %d runs, want 4", len(saved))
	}
	for _, rec := range saved {
		if rec.Timeframe != "1Day" {
			t.Errorf("saved run timeframe = %q", rec.Timeframe)
		}
	}

	rows, err := ps.ReadRun(context.Background(), "QQQ", 2)
	if err != nil || len(rows) != 9 {
		t.Errorf("ReadRun(QQQ, 2) = %d rows, %v", len(rows), err)
	}
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := NewRunner(newCountingSource(), backtest.DefaultConfig()).
		Run(ctx, Jobs([]string{"SPY"}, []int{1}, start, time.Time{}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunnerNoJobs(t *testing.T) {
	results, err := NewRunner(newCountingSource(), backtest.DefaultConfig()).Run(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("Run(nil) = %v, %v", results, err)
	}
}

func TestJobs(t *testing.T) {
	jobs := Jobs([]string{"A", "B"}, []int{5, 10, 20}, time.Time{}, time.Time{})
	if len(jobs) != 6 {
		t.Fatalf("Jobs returned %d jobs, want 6", len(jobs))
	}
	if jobs[0].Symbol != "A" || jobs[0].Momentum != 5 || jobs[5].Symbol != "B" || jobs[5].Momentum != 20 {
		t.Errorf("Jobs order = %+v", jobs)
	}
}
