package feed

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mombt/internal/domain"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	return et
}

func TestLatestFinishedTradingDayCalendar(t *testing.T) {
	et := newYork(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// 2024-03-15 (Friday) is treated as a holiday here.
		w.Write([]byte(`[
			{"date":"2024-03-13","open":"09:30","close":"16:00"},
			{"date":"2024-03-14","open":"09:30","close":"16:00"},
			{"date":"2024-03-18","open":"09:30","close":"16:00"}
		]`))
	}))
	defer srv.Close()

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"after cutoff", time.Date(2024, 3, 14, 21, 0, 0, 0, et), "2024-03-14"},
		{"before cutoff", time.Date(2024, 3, 14, 15, 0, 0, 0, et), "2024-03-13"},
		{"holiday weekend", time.Date(2024, 3, 17, 12, 0, 0, 0, et), "2024-03-14"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestFinishedTradingDay("key", "secret", srv.URL, tt.now)
			if err != nil {
				t.Fatalf("LatestFinishedTradingDay: %v", err)
			}
			if got.Format(time.DateOnly) != tt.want {
				t.Errorf("got %s, want %s", got.Format(time.DateOnly), tt.want)
			}
		})
	}
}

func TestLatestFinishedTradingDayOffline(t *testing.T) {
	newYork(t)
	// Saturday; no credentials means the weekday calendar is used.
	now := time.Date(2024, 3, 16, 17, 0, 0, 0, time.UTC)
	got, err := LatestFinishedTradingDay("", "", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Format(time.DateOnly) != "2024-03-15" {
		t.Errorf("got %s, want 2024-03-15", got.Format(time.DateOnly))
	}
}

func TestLatestFinishedDayCrypto(t *testing.T) {
	now := time.Date(2024, 3, 16, 17, 0, 0, 0, time.UTC)
	got, err := LatestFinishedDay(domain.MarketCrypto, "", "", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if got.Format(time.DateOnly) != "2024-03-15" {
		t.Errorf("got %s, want 2024-03-15", got.Format(time.DateOnly))
	}
}
