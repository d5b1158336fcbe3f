// Package mombt is a Go client for the mombt-server HTTP API.
package mombt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the mombt-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new mombt API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BacktestRequest describes one backtest. Nil Amount, Cost and Leverage
// and a zero End leave the server defaults in place.
type BacktestRequest struct {
	Symbol   string
	Start    time.Time
	End      time.Time
	Momentum int
	Amount   *float64
	Cost     *float64
	Leverage *float64
}

// Summary is the rounded outcome of a run.
type Summary struct {
	AbsolutePerfCash float64 `json:"absolute_perf_cash"`
	AbsolutePerfPct  float64 `json:"absolute_perf_pct"`
	OutperfCash      float64 `json:"outperf_cash"`
	OutperfPct       float64 `json:"outperf_pct"`
	MaxDrawdownCash  float64 `json:"max_drawdown_cash"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
}

// RunResponse is the result of a backtest.
type RunResponse struct {
	RunID        int64             `json:"run_id"`
	Symbol       string            `json:"symbol"`
	Momentum     int               `json:"momentum"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	Amount       float64           `json:"amount"`
	Cost         float64           `json:"tc"`
	Leverage     float64           `json:"leverage"`
	Observations int               `json:"observations"`
	Trades       int               `json:"trades"`
	Summary      Summary           `json:"summary"`
	Report       map[string]string `json:"report"`
}

// Run is a saved run from the server's history.
type Run struct {
	ID           int64     `json:"id"`
	Symbol       string    `json:"symbol"`
	Momentum     int       `json:"momentum"`
	Timeframe    string    `json:"timeframe"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Amount       float64   `json:"amount"`
	Cost         float64   `json:"tc"`
	Leverage     float64   `json:"leverage"`
	Observations int       `json:"observations"`
	Trades       int       `json:"trades"`
	Summary      Summary   `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mombt: %d %s", e.StatusCode, e.Message)
}

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("mombt: not found")

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Backtest runs a backtest on the server.
func (c *Client) Backtest(ctx context.Context, req BacktestRequest) (*RunResponse, error) {
	q := url.Values{}
	q.Set("start", req.Start.Format(time.DateOnly))
	if !req.End.IsZero() {
		q.Set("end", req.End.Format(time.DateOnly))
	}
	if req.Momentum > 0 {
		q.Set("momentum", strconv.Itoa(req.Momentum))
	}
	if req.Amount != nil {
		q.Set("amount", strconv.FormatFloat(*req.Amount, 'f', -1, 64))
	}
	if req.Cost != nil {
		q.Set("tc", strconv.FormatFloat(*req.Cost, 'f', -1, 64))
	}
	if req.Leverage != nil {
		q.Set("leverage", strconv.FormatFloat(*req.Leverage, 'f', -1, 64))
	}

	var resp RunResponse
	if err := c.get(ctx, "/api/backtest/"+url.PathEscape(req.Symbol), q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists saved runs, newest first. An empty symbol matches all
// symbols; limit <= 0 means no limit.
func (c *Client) ListRuns(ctx context.Context, symbol string, limit int) ([]Run, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.get(ctx, "/api/runs", q, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun fetches one saved run.
func (c *Client) GetRun(ctx context.Context, id int64) (*Run, error) {
	var run Run
	if err := c.get(ctx, "/api/runs/"+strconv.FormatInt(id, 10), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
