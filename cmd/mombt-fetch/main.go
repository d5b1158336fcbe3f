// Command mombt-fetch fills the local Parquet bar cache from Alpaca so
// backtests can run offline with -source store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mombt/internal/config"
	"mombt/internal/domain"
	"mombt/internal/feed"
	"mombt/internal/store"
	"mombt/internal/util"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols to fetch (required)")
	startFlag := flag.String("start", "", "first date, YYYY-MM-DD (required)")
	endFlag := flag.String("end", "", "last date, YYYY-MM-DD (default: latest finished trading day)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 || *startFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	start, err := time.Parse(time.DateOnly, *startFlag)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}

	market := domain.Market(cfg.Backtest.Market)
	var end time.Time
	if *endFlag != "" {
		if end, err = time.Parse(time.DateOnly, *endFlag); err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	} else {
		end, err = feed.LatestFinishedDay(market, cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, time.Now())
		if err != nil {
			log.Fatalf("resolving end date: %v", err)
		}
	}

	opts, err := feed.AlpacaOptionsFromConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	src := feed.NewAlpacaSource(opts)
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("fetching bars",
		"symbols", len(symbols),
		"market", market,
		"timeframe", src.TimeFrame(),
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
	)

	n, failed := fetchAll(ctx, src, pstore, string(market), src.TimeFrame(), symbols, start, end)
	if ctx.Err() != nil {
		log.Fatalf("interrupted after %d bars", n)
	}
	slog.Info("fetch complete", "bars", n, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// fetchAll fetches each symbol and writes its bars to bs. It returns the
// number of bars written and the number of symbols that failed.
func fetchAll(ctx context.Context, src feed.BarFetcher, bs store.BarStore, market, timeframe string, symbols []string, start, end time.Time) (int, int) {
	total, failed := 0, 0
	for i, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		bars, err := src.FetchBars(ctx, sym, start, end)
		if err == nil && len(bars) > 0 {
			err = bs.WriteBars(ctx, market, timeframe, bars)
		}
		if err != nil {
			failed++
			slog.Error("fetch failed", "symbol", sym, "error", err)
			continue
		}
		total += len(bars)
		slog.Info("symbol fetched", "symbol", sym, "bars", len(bars), "progress", i+1, "of", len(symbols))
	}
	return total, failed
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
