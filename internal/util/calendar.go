package util

import (
	"time"

	"mombt/internal/domain"
)

// TradingCalendar is an offline approximation of a market's session
// schedule. US equities trade weekdays and close at 16:00 New York time;
// crypto trades every day and a day is finished at UTC midnight. Exchange
// holidays are not modelled, so callers with API access should prefer the
// broker calendar.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location
	close  time.Duration // session close, offset from local midnight
	settle time.Duration // extra wait after close before data is final
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	tc := &TradingCalendar{market: market, loc: time.UTC}
	if market == domain.MarketCrypto {
		tc.close = 24 * time.Hour
		return tc
	}
	if et, err := time.LoadLocation("America/New_York"); err == nil {
		tc.loc = et
	}
	tc.close = 16 * time.Hour
	tc.settle = 4*time.Hour + 5*time.Minute
	return tc
}

// IsTradingDay reports whether the market holds a session on t's calendar
// day in the market's time zone.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	if tc.market == domain.MarketCrypto {
		return true
	}
	switch t.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// LatestFinishedDay returns the most recent trading day whose session,
// including settlement, has ended at or before now. The result is the
// calendar date at UTC midnight.
func (tc *TradingCalendar) LatestFinishedDay(now time.Time) time.Time {
	local := now.In(tc.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc)
	for {
		if tc.IsTradingDay(day) && !local.Before(day.Add(tc.close+tc.settle)) {
			return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		}
		day = day.AddDate(0, 0, -1)
	}
}
