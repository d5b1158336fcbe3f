package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mombt/internal/backtest"
	"mombt/internal/store"
)

// RegisterRoutes registers all HTTP routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/backtest/{symbol}", s.handleBacktest)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// httpStatus maps domain errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, backtest.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backtest.ErrDataUnavailable), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errRunsDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

// handleBacktest serves GET /api/backtest/{symbol}.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	req, err := parseBacktestRequest(r.PathValue("symbol"), r.URL.Query().Get)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.Backtest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, resp)
}

// handleListRuns serves GET /api/runs?symbol=&limit=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	f, err := parseRunFilter(r.URL.Query().Get)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	runs, err := s.ListRuns(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, map[string]any{"runs": runs})
}

// handleGetRun serves GET /api/runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, r, fmt.Errorf("%w: invalid run id %q", backtest.ErrInvalidParameter, r.PathValue("id")))
		return
	}
	if s.runs == nil {
		s.fail(w, r, errRunsDisabled)
		return
	}
	rec, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// handleSymbols serves GET /api/symbols, the symbols in the bar cache.
func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := []string{}
	if s.bars != nil {
		list, err := s.bars.ListSymbols(r.Context(), s.market, s.timeframe)
		if err != nil {
			s.fail(w, r, fmt.Errorf("listing symbols: %w", err))
			return
		}
		symbols = append(symbols, list...)
	}
	writeJSON(w, map[string]any{
		"market":    s.market,
		"timeframe": s.timeframe,
		"symbols":   symbols,
	})
}

// parseBacktestRequest reads backtest parameters through get, which returns
// "" for absent keys. Both URL queries and gRPC structs are read this way.
func parseBacktestRequest(symbol string, get func(string) string) (BacktestRequest, error) {
	req := BacktestRequest{Symbol: strings.TrimSpace(symbol)}
	if req.Symbol == "" {
		return req, fmt.Errorf("%w: symbol is required", backtest.ErrInvalidParameter)
	}

	var err error
	if req.Start, err = parseDate("start", get("start")); err != nil {
		return req, err
	}
	if req.Start.IsZero() {
		return req, fmt.Errorf("%w: start is required", backtest.ErrInvalidParameter)
	}
	if req.End, err = parseDate("end", get("end")); err != nil {
		return req, err
	}

	if v := get("momentum"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("%w: momentum %q is not an integer", backtest.ErrInvalidParameter, v)
		}
		if m < 1 {
			return req, fmt.Errorf("%w: momentum must be >= 1, got %d", backtest.ErrInvalidParameter, m)
		}
		req.Momentum = m
	}
	if req.Amount, err = parseOptionalFloat("amount", get("amount")); err != nil {
		return req, err
	}
	if req.Cost, err = parseOptionalFloat("tc", get("tc")); err != nil {
		return req, err
	}
	if req.Leverage, err = parseOptionalFloat("leverage", get("leverage")); err != nil {
		return req, err
	}
	return req, nil
}

func parseRunFilter(get func(string) string) (store.RunFilter, error) {
	f := store.RunFilter{Symbol: get("symbol")}
	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: invalid limit %q", backtest.ErrInvalidParameter, v)
		}
		f.Limit = n
	}
	return f, nil
}

func parseDate(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a date (want YYYY-MM-DD)", backtest.ErrInvalidParameter, name, v)
}

// parseOptionalFloat returns nil for an absent value. An explicit zero is
// returned as a value and left to backtest.Config.Validate.
func parseOptionalFloat(name, v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a number", backtest.ErrInvalidParameter, name, v)
	}
	return &f, nil
}
