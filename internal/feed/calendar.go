package feed

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"mombt/internal/domain"
	"mombt/internal/util"
)

// LatestFinishedTradingDay returns the most recent US trading day whose
// session has ended as of now (after 20:05 ET, to let extended-hours data
// settle). It uses the Alpaca trading calendar; without credentials it falls
// back to the weekday calendar in util, which does not know holidays.
func LatestFinishedTradingDay(apiKey, apiSecret, baseURL string, now time.Time) (time.Time, error) {
	if apiKey == "" {
		return util.NewTradingCalendar(domain.MarketUS).LatestFinishedDay(now), nil
	}

	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}

	now = now.In(et)
	start := now.AddDate(0, 0, -7)

	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format(time.DateOnly)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(calendar) - 1; i >= 0; i-- {
		day := calendar[i]
		if day.Date > today {
			continue
		}
		if day.Date == today {
			if now.After(cutoff) {
				t, _ := time.Parse(time.DateOnly, day.Date)
				return t, nil
			}
			continue
		}
		dayDate, err := time.Parse(time.DateOnly, day.Date)
		if err != nil {
			continue
		}
		return dayDate, nil
	}

	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

// LatestFinishedDay is LatestFinishedTradingDay for any market. Crypto never
// needs the broker calendar.
func LatestFinishedDay(market domain.Market, apiKey, apiSecret, baseURL string, now time.Time) (time.Time, error) {
	if market == domain.MarketCrypto {
		return util.NewTradingCalendar(market).LatestFinishedDay(now), nil
	}
	return LatestFinishedTradingDay(apiKey, apiSecret, baseURL, now)
}
