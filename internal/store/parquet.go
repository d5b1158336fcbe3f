package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"mombt/internal/backtest"
	"mombt/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and run-curve export using Parquet files
// on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// RunRowRecord is the Parquet schema for one observation of a backtest run.
// Position is null before the momentum window fills.
type RunRowRecord struct {
	Timestamp         int64   `parquet:"timestamp,timestamp(millisecond)"`
	Return            float64 `parquet:"returns"`
	Position          *int32  `parquet:"position"`
	StrategyReturn    float64 `parquet:"strategy"`
	Held              bool    `parquet:"held"`
	Trade             bool    `parquet:"trade"`
	NetStrategyReturn float64 `parquet:"net_strategy"`

	ReturnCash   float64 `parquet:"creturns_c"`
	StrategyCash float64 `parquet:"cstrategy_c"`
	ReturnPct    float64 `parquet:"creturns_p"`
	StrategyPct  float64 `parquet:"cstrategy_p"`

	PeakReturnCash   float64 `parquet:"cmreturns_c"`
	PeakStrategyCash float64 `parquet:"cmstrategy_c"`
	PeakReturnPct    float64 `parquet:"cmreturns_p"`
	PeakStrategyPct  float64 `parquet:"cmstrategy_p"`

	DrawdownReturnCash   float64 `parquet:"ddreturns_c"`
	DrawdownStrategyCash float64 `parquet:"ddstrategy_c"`
	DrawdownReturnPct    float64 `parquet:"ddreturns_p"`
	DrawdownStrategyPct  float64 `parquet:"ddstrategy_p"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/bars/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, market, timeframe string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Group by symbol → year.
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		k := key{symbol: strings.ToUpper(b.Symbol), year: ts.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  ts.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, timeframe, k.year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. A zero end reads through the latest stored year.
func (s *ParquetStore) ReadBars(_ context.Context, symbol, market, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	lastYear := end.UTC().Year()
	if end.IsZero() {
		lastYear = time.Now().UTC().Year()
	}

	var bars []domain.Bar
	for year := start.UTC().Year(); year <= lastYear; year++ {
		path := s.barPath(symbol, market, timeframe, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				// No file for this year.
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || (!end.IsZero() && ts.After(end)) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market and
// timeframe.
func (s *ParquetStore) ListSymbols(_ context.Context, market, timeframe string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "bars", timeframe)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Run export
// ---------------------------------------------------------------------------

// WriteRun writes every observation of run to
// <DataDir>/runs/<SYMBOL>/m<momentum>.parquet, replacing any earlier export
// for the same symbol and window. It returns the file path.
func (s *ParquetStore) WriteRun(_ context.Context, run *backtest.StrategyRun) (string, error) {
	records := make([]RunRowRecord, 0, run.Len())
	for _, r := range run.Rows() {
		rec := RunRowRecord{
			Timestamp:            r.Time.UnixMilli(),
			Return:               r.Return,
			StrategyReturn:       r.StrategyReturn,
			Held:                 r.Held,
			Trade:                r.Trade,
			NetStrategyReturn:    r.NetStrategyReturn,
			ReturnCash:           r.ReturnCash,
			StrategyCash:         r.StrategyCash,
			ReturnPct:            r.ReturnPct,
			StrategyPct:          r.StrategyPct,
			PeakReturnCash:       r.PeakReturnCash,
			PeakStrategyCash:     r.PeakStrategyCash,
			PeakReturnPct:        r.PeakReturnPct,
			PeakStrategyPct:      r.PeakStrategyPct,
			DrawdownReturnCash:   r.DrawdownReturnCash,
			DrawdownStrategyCash: r.DrawdownStrategyCash,
			DrawdownReturnPct:    r.DrawdownReturnPct,
			DrawdownStrategyPct:  r.DrawdownStrategyPct,
		}
		if r.Position.Defined() {
			p := int32(r.Position)
			rec.Position = &p
		}
		records = append(records, rec)
	}

	path := s.runPath(run.Symbol, run.Momentum)
	if err := writeParquetFile(path, records); err != nil {
		return "", fmt.Errorf("writing run %s/m%d: %w", run.Symbol, run.Momentum, err)
	}
	return path, nil
}

// ReadRun reads back the rows exported by WriteRun.
func (s *ParquetStore) ReadRun(_ context.Context, symbol string, momentum int) ([]backtest.Row, error) {
	path := s.runPath(symbol, momentum)
	records, err := readParquetFile[RunRowRecord](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s/m%d: %w", symbol, momentum, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	rows := make([]backtest.Row, len(records))
	for i, rec := range records {
		pos := backtest.NoPosition
		if rec.Position != nil {
			pos = backtest.Position(*rec.Position)
		}
		rows[i] = backtest.Row{
			Time:                 time.UnixMilli(rec.Timestamp).UTC(),
			Return:               rec.Return,
			Position:             pos,
			StrategyReturn:       rec.StrategyReturn,
			Held:                 rec.Held,
			Trade:                rec.Trade,
			NetStrategyReturn:    rec.NetStrategyReturn,
			ReturnCash:           rec.ReturnCash,
			StrategyCash:         rec.StrategyCash,
			ReturnPct:            rec.ReturnPct,
			StrategyPct:          rec.StrategyPct,
			PeakReturnCash:       rec.PeakReturnCash,
			PeakStrategyCash:     rec.PeakStrategyCash,
			PeakReturnPct:        rec.PeakReturnPct,
			PeakStrategyPct:      rec.PeakStrategyPct,
			DrawdownReturnCash:   rec.DrawdownReturnCash,
			DrawdownStrategyCash: rec.DrawdownStrategyCash,
			DrawdownReturnPct:    rec.DrawdownReturnPct,
			DrawdownStrategyPct:  rec.DrawdownStrategyPct,
		}
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/bars/<timeframe>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market, timeframe string, year int) string {
	return filepath.Join(s.DataDir, market, "bars", timeframe, strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// runPath returns the filesystem path for a run export.
// Layout: <dataDir>/runs/<SYMBOL>/m<momentum>.parquet
func (s *ParquetStore) runPath(symbol string, momentum int) string {
	return filepath.Join(s.DataDir, "runs", strings.ToUpper(symbol), fmt.Sprintf("m%d.parquet", momentum))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
