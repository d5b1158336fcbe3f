// Package batch runs many momentum backtests concurrently: every distinct
// symbol series is loaded once, then each (symbol, window) job runs on its
// own engine over a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mombt/internal/backtest"
	"mombt/internal/store"
)

// Job is one backtest to run.
type Job struct {
	Symbol   string
	Momentum int
	Start    time.Time
	End      time.Time
}

func (j Job) seriesKey() seriesKey {
	return seriesKey{symbol: strings.ToUpper(j.Symbol), start: j.Start.Unix(), end: j.End.Unix()}
}

type seriesKey struct {
	symbol     string
	start, end int64
}

// Result is the outcome of one Job. Err is set when loading, running or
// persisting failed; Summary and Run are valid whenever Run is non-nil.
type Result struct {
	Job     Job
	Summary backtest.Summary
	Run     *backtest.StrategyRun
	RunID   int64  // set when a RunStore is configured
	Export  string // set when an exporter is configured
	Err     error
	Elapsed time.Duration
}

// RunExporter writes the full curves of a run somewhere durable.
type RunExporter interface {
	WriteRun(ctx context.Context, run *backtest.StrategyRun) (string, error)
}

// Runner executes jobs against one price source and configuration.
type Runner struct {
	source    backtest.PriceSource
	cfg       backtest.Config
	runs      store.RunStore
	exporter  RunExporter
	workers   int
	timeframe string
	log       *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunStore saves every successful run summary to rs.
func WithRunStore(rs store.RunStore) Option { return func(r *Runner) { r.runs = rs } }

// WithExporter writes every successful run's curves through e.
func WithExporter(e RunExporter) Option { return func(r *Runner) { r.exporter = e } }

// WithWorkers sets the worker pool size (default 4).
func WithWorkers(n int) Option { return func(r *Runner) { r.workers = n } }

// WithTimeframe labels saved runs with the bar granularity.
func WithTimeframe(tf string) Option { return func(r *Runner) { r.timeframe = tf } }

// NewRunner creates a Runner.
func NewRunner(src backtest.PriceSource, cfg backtest.Config, opts ...Option) *Runner {
	r := &Runner{
		source:  src,
		cfg:     cfg,
		workers: 4,
		log:     slog.Default().With("component", "batch"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// Run executes jobs and returns one Result per job, in job order. Per-job
// failures are reported in Result.Err; the returned error is non-nil only
// when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	for i, j := range jobs {
		results[i].Job = j
	}
	if len(jobs) == 0 {
		return results, nil
	}
	runStart := time.Now()

	// 1. Load each distinct series once.
	var keys []seriesKey
	byKey := make(map[seriesKey]Job)
	for _, j := range jobs {
		k := j.seriesKey()
		if _, ok := byKey[k]; !ok {
			byKey[k] = j
			keys = append(keys, k)
		}
	}

	engines := make([]*backtest.Engine, len(keys))
	loadErrs := make([]error, len(keys))
	r.forEach(ctx, len(keys), func(i int) {
		j := byKey[keys[i]]
		engines[i], loadErrs[i] = backtest.New(ctx, r.source, keys[i].symbol, j.Start, j.End, r.cfg)
		if loadErrs[i] != nil {
			r.log.Warn("loading series failed", "symbol", keys[i].symbol, "err", loadErrs[i])
		}
	})
	if err := ctx.Err(); err != nil {
		return results, err
	}

	loaded := make(map[seriesKey]int, len(keys))
	for i, k := range keys {
		loaded[k] = i
	}

	// 2. Run every job on its own engine.
	var done, failed atomic.Int64
	r.forEach(ctx, len(jobs), func(i int) {
		jobStart := time.Now()
		res := &results[i]
		idx := loaded[res.Job.seriesKey()]

		if loadErrs[idx] != nil {
			res.Err = loadErrs[idx]
		} else {
			r.runJob(ctx, engines[idx].Fork(), res)
		}
		res.Elapsed = time.Since(jobStart)

		if res.Err != nil {
			failed.Add(1)
		}
		r.log.Info("job done",
			"symbol", res.Job.Symbol,
			"momentum", res.Job.Momentum,
			"progress", fmt.Sprintf("%d/%d", done.Add(1), len(jobs)),
			"err", res.Err,
			"elapsed", res.Elapsed.Round(time.Millisecond),
		)
	})
	if err := ctx.Err(); err != nil {
		return results, err
	}

	r.log.Info("batch complete",
		"jobs", len(jobs),
		"series", len(keys),
		"failed", failed.Load(),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return results, nil
}

func (r *Runner) runJob(ctx context.Context, e *backtest.Engine, res *Result) {
	summary, err := e.Run(res.Job.Momentum)
	if err != nil {
		res.Err = fmt.Errorf("%s m=%d: %w", e.Symbol(), res.Job.Momentum, err)
		return
	}
	res.Summary = summary
	res.Run = e.CurrentRun()

	if r.runs != nil {
		id, err := r.runs.SaveRun(ctx, store.NewRunRecord(res.Run, r.timeframe))
		if err != nil {
			res.Err = fmt.Errorf("saving run: %w", err)
			return
		}
		res.RunID = id
	}
	if r.exporter != nil {
		path, err := r.exporter.WriteRun(ctx, res.Run)
		if err != nil {
			res.Err = fmt.Errorf("exporting run: %w", err)
			return
		}
		res.Export = path
	}
}

// forEach calls fn(i) for i in [0, n) on up to r.workers goroutines. It
// stops handing out work once ctx is cancelled.
func (r *Runner) forEach(ctx context.Context, n int, fn func(i int)) {
	idxCh := make(chan int, n)
	for i := 0; i < n; i++ {
		idxCh <- i
	}
	close(idxCh)

	var wg sync.WaitGroup
	workers := min(r.workers, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				if ctx.Err() != nil {
					return
				}
				fn(i)
			}
		}()
	}
	wg.Wait()
}

// Jobs expands symbols × windows into jobs sharing one date range.
func Jobs(symbols []string, windows []int, start, end time.Time) []Job {
	jobs := make([]Job, 0, len(symbols)*len(windows))
	for _, s := range symbols {
		for _, m := range windows {
			jobs = append(jobs, Job{Symbol: s, Momentum: m, Start: start, End: end})
		}
	}
	return jobs
}
