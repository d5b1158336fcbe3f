// Command mombt-server serves backtests and run history over HTTP and gRPC.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"mombt/internal/api"
	"mombt/internal/config"
	"mombt/internal/feed"
	"mombt/internal/store"
	"mombt/internal/util"
)

func main() {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Without credentials the server can only replay the bar cache.
	kind := feed.SourceStore
	if cfg.Alpaca.APIKey != "" {
		kind = feed.SourceCached
	}
	src, err := feed.NewSource(kind, cfg, "")
	if err != nil {
		log.Fatalf("creating price source: %v", err)
	}

	dbPath := cfg.Storage.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Storage.DataDir, "runs.db")
	}
	runs, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("opening run history: %v", err)
	}
	defer runs.Close()

	tf, err := feed.ParseTimeFrame(cfg.Backtest.Timeframe)
	if err != nil {
		log.Fatal(err)
	}

	srv := api.NewServer(api.Options{
		Source:    src,
		Bars:      store.NewParquetStore(cfg.Storage.DataDir),
		Runs:      runs,
		Config:    cfg.BacktestConfig(),
		Market:    cfg.Backtest.Market,
		Timeframe: feed.TimeFrameKey(tf),
		Logger:    logger,
	})

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	grpcAddr := ""
	if cfg.Server.GRPCPort != 0 {
		grpcAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting mombt-server", "source", kind, "db", dbPath, "dataDir", cfg.Storage.DataDir)
	if err := srv.ListenAndServe(ctx, httpAddr, grpcAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("server stopped")
}
