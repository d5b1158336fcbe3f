package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"mombt/internal/domain"
)

// CSVSource reads a price series from a "time,close" CSV file. A header row
// is optional. Times may be RFC 3339 or YYYY-MM-DD. The symbol argument of
// FetchPrices is ignored; one file holds one series.
type CSVSource struct {
	path string
}

// NewCSVSource creates a CSVSource for the file at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// FetchPrices implements backtest.PriceSource. Rows outside [start, end]
// are dropped; a zero start or end leaves that side open.
func (s *CSVSource) FetchPrices(_ context.Context, _ string, start, end time.Time) ([]domain.PricePoint, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer f.Close()

	points, err := ReadPricesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	out := points[:0]
	for _, p := range points {
		if !start.IsZero() && p.Time.Before(start) {
			continue
		}
		if !end.IsZero() && p.Time.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ReadPricesCSV parses "time,close" records from r. The first record is
// skipped when its close column is not a number. Points are returned in
// file order.
func ReadPricesCSV(r io.Reader) ([]domain.PricePoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	var out []domain.PricePoint
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want 2 columns, got %d", i+1, len(rec))
		}
		closeVal, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: close %q: %w", i+1, rec[1], err)
		}
		ts, err := parseTime(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out = append(out, domain.PricePoint{Time: ts, Close: closeVal})
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("time %q is neither RFC 3339 nor YYYY-MM-DD", s)
}
