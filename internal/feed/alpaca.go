package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"mombt/internal/domain"
	"mombt/internal/util"
)

// AlpacaOptions configures an AlpacaSource.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string // empty for the SDK default

	Market     domain.Market // MarketUS (default) or MarketCrypto
	TimeFrame  marketdata.TimeFrame
	Feed       string // "iex", "sip"; stocks only
	Adjustment string // "raw", "split", "dividend", "all"; stocks only

	RateLimitPerMin int // <= 0 disables pacing
	MaxAttempts     int
	RetryDelay      time.Duration
}

// AlpacaSource fetches historical bars from the Alpaca market-data API.
type AlpacaSource struct {
	client     *marketdata.Client
	market     domain.Market
	timeframe  marketdata.TimeFrame
	feed       string
	adjustment string
	limiter    *util.RateLimiter
	attempts   int
	delay      time.Duration
	log        *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource from opts.
func NewAlpacaSource(opts AlpacaOptions) *AlpacaSource {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}

	tf := opts.TimeFrame
	if tf.N == 0 {
		tf = marketdata.OneDay
	}
	market := opts.Market
	if market == "" {
		market = domain.MarketUS
	}

	return &AlpacaSource{
		client:     marketdata.NewClient(clientOpts),
		market:     market,
		timeframe:  tf,
		feed:       opts.Feed,
		adjustment: opts.Adjustment,
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		attempts:   max(opts.MaxAttempts, 1),
		delay:      opts.RetryDelay,
		log:        slog.Default().With("source", "alpaca", "market", string(market)),
	}
}

// Market returns the market the source fetches from.
func (s *AlpacaSource) Market() domain.Market { return s.market }

// TimeFrame returns the canonical bar granularity, e.g. "1Day".
func (s *AlpacaSource) TimeFrame() string { return TimeFrameKey(s.timeframe) }

// FetchBars fetches bars for symbol over [start, end]. Each attempt waits on
// the rate limiter; failures are retried with exponential backoff.
func (s *AlpacaSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	var bars []domain.Bar
	attempt := 0
	err := util.Retry(ctx, s.attempts, s.delay, func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return util.Permanent(err)
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}

		var err error
		bars, err = s.fetchOnce(symbol, start, end)
		if err != nil && attempt < s.attempts {
			s.log.Warn("fetch failed, retrying", "symbol", symbol, "attempt", attempt, "err", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s bars: %w", symbol, err)
	}

	s.log.Debug("fetched bars", "symbol", symbol, "timeframe", s.TimeFrame(), "bars", len(bars))
	return bars, nil
}

func (s *AlpacaSource) fetchOnce(symbol string, start, end time.Time) ([]domain.Bar, error) {
	if s.market == domain.MarketCrypto {
		cryptoBars, err := s.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: s.timeframe,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("GetCryptoBars: %w", err)
		}
		bars := make([]domain.Bar, 0, len(cryptoBars))
		for _, cb := range cryptoBars {
			bars = append(bars, domain.Bar{
				Symbol:     symbol,
				Timestamp:  cb.Timestamp.UTC(),
				Open:       cb.Open,
				High:       cb.High,
				Low:        cb.Low,
				Close:      cb.Close,
				Volume:     int64(cb.Volume),
				TradeCount: int64(cb.TradeCount),
				VWAP:       cb.VWAP,
			})
		}
		return bars, nil
	}

	alpacaBars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  s.timeframe,
		Start:      start,
		End:        end,
		Feed:       marketdata.Feed(s.feed),
		Adjustment: marketdata.Adjustment(s.adjustment),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// FetchPrices implements backtest.PriceSource.
func (s *AlpacaSource) FetchPrices(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	bars, err := s.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return BarsToPrices(bars), nil
}
