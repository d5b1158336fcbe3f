package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"mombt/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	bad := errors.New("bad request")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(bad)
	})

	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
	if !errors.Is(err, bad) || !errors.Is(err, ErrPermanent) {
		t.Errorf("Retry error = %v, want wrapped permanent bad request", err)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	if rl != nil {
		t.Fatal("NewRateLimiter(0) should be unlimited (nil)")
	}
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	_ = rl.Wait(context.Background()) // drain the initial token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown", "k", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "k=1") {
		t.Errorf("text output = %q", out)
	}

	buf.Reset()
	NewLoggerTo(&buf, "debug", "json").Debug("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTradingCalendarNew(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	if cal == nil {
		t.Fatal("NewTradingCalendar returned nil")
	}
}

func TestLatestFinishedDayUS(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	if cal.loc == time.UTC {
		t.Skip("America/New_York time zone not available")
	}
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		// 2024-03-13 is a Wednesday.
		{"wednesday after settle", time.Date(2024, 3, 13, 21, 0, 0, 0, cal.loc), day(2024, 3, 13)},
		{"wednesday during session", time.Date(2024, 3, 13, 11, 0, 0, 0, cal.loc), day(2024, 3, 12)},
		{"saturday", time.Date(2024, 3, 16, 12, 0, 0, 0, cal.loc), day(2024, 3, 15)},
		{"monday morning", time.Date(2024, 3, 18, 8, 0, 0, 0, cal.loc), day(2024, 3, 15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.LatestFinishedDay(tt.now); !got.Equal(tt.want) {
				t.Errorf("LatestFinishedDay(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestLatestFinishedDayCrypto(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketCrypto)
	now := time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC) // Saturday
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if got := cal.LatestFinishedDay(now); !got.Equal(want) {
		t.Errorf("LatestFinishedDay = %v, want %v", got, want)
	}
	if !cal.IsTradingDay(now) {
		t.Error("crypto trades on weekends")
	}
}
