// Package api serves momentum backtests and saved run history over HTTP
// and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"

	"mombt/internal/backtest"
	"mombt/internal/store"
)

// Options wires a Server to its data. Only Source is required.
type Options struct {
	Source    backtest.PriceSource
	Bars      store.BarStore // serves /api/symbols when set
	Runs      store.RunStore // saves and lists runs when set
	Config    backtest.Config
	Market    string
	Timeframe string
	Logger    *slog.Logger
}

// Server is the API server that hosts HTTP and gRPC endpoints.
type Server struct {
	source    backtest.PriceSource
	bars      store.BarStore
	runs      store.RunStore
	cfg       backtest.Config
	market    string
	timeframe string
	log       *slog.Logger

	httpServer *http.Server
	grpcServer *grpc.Server
}

// NewServer creates a Server from opts.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		source:    opts.Source,
		bars:      opts.Bars,
		runs:      opts.Runs,
		cfg:       opts.Config,
		market:    opts.Market,
		timeframe: opts.Timeframe,
		log:       log.With("component", "api"),
	}
}

// ListenAndServe starts the HTTP listener on httpAddr and, when grpcAddr is
// not empty, the gRPC listener. It blocks until ctx is cancelled or a
// listener fails, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("http server listening", "addr", httpAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			s.httpServer.Close()
			return fmt.Errorf("listening on %s: %w", grpcAddr, err)
		}
		s.grpcServer = grpc.NewServer()
		s.RegisterGRPC(s.grpcServer)
		go func() {
			s.log.Info("grpc server listening", "addr", grpcAddr)
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	return nil
}

// BacktestRequest is one backtest to run. Nil Amount, Cost and Leverage
// fall back to the server configuration. A zero Momentum means 1.
type BacktestRequest struct {
	Symbol   string
	Start    time.Time
	End      time.Time
	Momentum int
	Amount   *float64
	Cost     *float64
	Leverage *float64
}

// RunResponse is the result of a backtest.
type RunResponse struct {
	RunID        int64             `json:"run_id,omitempty"`
	Symbol       string            `json:"symbol"`
	Momentum     int               `json:"momentum"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	Amount       float64           `json:"amount"`
	Cost         float64           `json:"tc"`
	Leverage     float64           `json:"leverage"`
	Observations int               `json:"observations"`
	Trades       int               `json:"trades"`
	Summary      backtest.Summary  `json:"summary"`
	Report       map[string]string `json:"report"`
}

// Backtest loads the series, runs it and saves the summary when a run
// store is configured. HTTP and gRPC handlers both go through here.
func (s *Server) Backtest(ctx context.Context, req BacktestRequest) (*RunResponse, error) {
	if s.source == nil {
		return nil, fmt.Errorf("%w: no price source configured", backtest.ErrDataUnavailable)
	}
	cfg := s.cfg
	if req.Amount != nil {
		cfg.Amount = *req.Amount
	}
	if req.Cost != nil {
		cfg.Cost = *req.Cost
	}
	if req.Leverage != nil {
		cfg.Leverage = *req.Leverage
	}
	if req.Momentum == 0 {
		req.Momentum = 1
	}

	symbol := strings.ToUpper(req.Symbol)
	e, err := backtest.New(ctx, s.source, symbol, req.Start, req.End, cfg)
	if err != nil {
		return nil, err
	}
	summary, err := e.Run(req.Momentum)
	if err != nil {
		return nil, err
	}
	run := e.CurrentRun()

	resp := &RunResponse{
		Symbol:       symbol,
		Momentum:     req.Momentum,
		Start:        run.Times[0],
		End:          run.Times[run.Len()-1],
		Amount:       cfg.Amount,
		Cost:         cfg.Cost,
		Leverage:     cfg.Leverage,
		Observations: run.Len(),
		Trades:       run.TradeCount(),
		Summary:      summary,
		Report:       summary.Fields(req.Momentum),
	}
	if s.runs != nil {
		id, err := s.runs.SaveRun(ctx, store.NewRunRecord(run, s.timeframe))
		if err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
		resp.RunID = id
	}

	s.log.Info("backtest served",
		"symbol", symbol,
		"momentum", req.Momentum,
		"trades", resp.Trades,
		"run_id", resp.RunID,
	)
	return resp, nil
}

// ListRuns returns saved runs, newest first.
func (s *Server) ListRuns(ctx context.Context, f store.RunFilter) ([]store.RunRecord, error) {
	if s.runs == nil {
		return nil, errRunsDisabled
	}
	return s.runs.ListRuns(ctx, f)
}

var errRunsDisabled = errors.New("run history is not configured")
