// Command mombt backtests a momentum strategy on one symbol and prints the
// summary of every requested momentum window.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mombt/internal/backtest"
	"mombt/internal/batch"
	"mombt/internal/config"
	"mombt/internal/domain"
	"mombt/internal/feed"
	"mombt/internal/store"
	"mombt/internal/util"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to backtest (required)")
	startFlag := flag.String("start", "", "first date, YYYY-MM-DD (required)")
	endFlag := flag.String("end", "", "last date, YYYY-MM-DD (default: latest finished trading day)")
	momentumFlag := flag.String("momentum", "", "comma-separated momentum windows (default: backtest.momentum from config)")
	amount := flag.Float64("amount", 0, "initial cash (default: config)")
	tc := flag.Float64("tc", 0, "proportional cost per trade (default: config)")
	leverage := flag.Float64("leverage", 0, "leverage (default: config)")
	source := flag.String("source", feed.SourceCached, "price source: alpaca, store, cached or csv")
	csvPath := flag.String("csv", "", "time,close CSV file for -source csv")
	outDir := flag.String("out", "", "directory to write per-window return tables as CSV")
	save := flag.Bool("save", false, "save summaries to SQLite and curves to Parquet")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	if *symbol == "" || *startFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	start, err := time.Parse(time.DateOnly, *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	windows := cfg.Backtest.Momentum
	if *momentumFlag != "" {
		if windows, err = parseWindows(*momentumFlag); err != nil {
			log.Fatalf("invalid -momentum: %v", err)
		}
	}

	btCfg := cfg.BacktestConfig()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "amount":
			btCfg.Amount = *amount
		case "tc":
			btCfg.Cost = *tc
		case "leverage":
			btCfg.Leverage = *leverage
		}
	})
	if err := btCfg.Validate(); err != nil {
		log.Fatal(err)
	}

	var end time.Time
	switch {
	case *endFlag != "":
		if end, err = time.Parse(time.DateOnly, *endFlag); err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	case *source == feed.SourceAlpaca || *source == feed.SourceCached:
		end, err = feed.LatestFinishedDay(domain.Market(cfg.Backtest.Market),
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, time.Now())
		if err != nil {
			log.Fatalf("resolving end date: %v", err)
		}
	}

	src, err := feed.NewSource(*source, cfg, *csvPath)
	if err != nil {
		log.Fatal(err)
	}
	tf, err := feed.ParseTimeFrame(cfg.Backtest.Timeframe)
	if err != nil {
		log.Fatal(err)
	}

	opts := []batch.Option{
		batch.WithWorkers(cfg.Backtest.Workers),
		batch.WithTimeframe(feed.TimeFrameKey(tf)),
	}
	if *save {
		runs, err := store.NewSQLiteStore(sqlitePath(cfg))
		if err != nil {
			log.Fatalf("opening run history: %v", err)
		}
		defer runs.Close()
		opts = append(opts,
			batch.WithRunStore(runs),
			batch.WithExporter(store.NewParquetStore(cfg.Storage.DataDir)),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	jobs := batch.Jobs([]string{strings.ToUpper(*symbol)}, windows, start, end)
	results, err := batch.NewRunner(src, btCfg, opts...).Run(ctx, jobs)
	if err != nil {
		log.Fatalf("backtest interrupted: %v", err)
	}

	summaries := make(map[int]backtest.Summary, len(results))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s m=%d: %v\n", res.Job.Symbol, res.Job.Momentum, res.Err)
			continue
		}
		summaries[res.Job.Momentum] = res.Summary
		if *outDir != "" {
			path, err := writeRunCSV(*outDir, res.Run)
			if err != nil {
				log.Fatalf("writing returns table: %v", err)
			}
			slog.Info("returns table written", "path", path)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(backtest.NewReport(summaries)); err != nil {
			log.Fatal(err)
		}
	} else if len(summaries) > 0 {
		fmt.Println(renderSummaryTable(strings.ToUpper(*symbol), btCfg, summaries))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// parseWindows parses a comma-separated list of momentum windows.
func parseWindows(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("window %q is not an integer", part)
		}
		if m < 1 {
			return nil, fmt.Errorf("window must be >= 1, got %d", m)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no windows in %q", s)
	}
	return out, nil
}

func sqlitePath(cfg *config.Config) string {
	if cfg.Storage.SQLitePath != "" {
		return cfg.Storage.SQLitePath
	}
	return filepath.Join(cfg.Storage.DataDir, "runs.db")
}

// writeRunCSV writes run to <dir>/<SYMBOL>_m<m>.csv.
func writeRunCSV(dir string, run *backtest.StrategyRun) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_m%d.csv", run.Symbol, run.Momentum))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := backtest.WriteRunCSV(f, run); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
