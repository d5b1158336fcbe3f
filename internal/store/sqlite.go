package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol       TEXT    NOT NULL,
	momentum     INTEGER NOT NULL,
	timeframe    TEXT    NOT NULL DEFAULT '',
	start_time   TEXT    NOT NULL DEFAULT '',
	end_time     TEXT    NOT NULL DEFAULT '',
	amount       REAL    NOT NULL,
	tc           REAL    NOT NULL,
	leverage     REAL    NOT NULL,
	observations INTEGER NOT NULL,
	trades       INTEGER NOT NULL,
	aperf_c      REAL    NOT NULL,
	aperf_p      REAL    NOT NULL,
	operf_c      REAL    NOT NULL,
	operf_p      REAL    NOT NULL,
	mdd_c        REAL    NOT NULL,
	mdd_p        REAL    NOT NULL,
	created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, id);
`

const runColumns = `id, symbol, momentum, timeframe, start_time, end_time, amount, tc, leverage,
	observations, trades, aperf_c, aperf_p, operf_c, operf_p, mdd_c, mdd_p, created_at`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts rec into the runs table.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (symbol, momentum, timeframe, start_time, end_time, amount, tc, leverage,
			observations, trades, aperf_c, aperf_p, operf_c, operf_p, mdd_c, mdd_p, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToUpper(rec.Symbol), rec.Momentum, rec.Timeframe,
		formatTime(rec.Start), formatTime(rec.End),
		rec.Amount, rec.Cost, rec.Leverage,
		rec.Observations, rec.Trades,
		rec.Summary.AbsolutePerfCash, rec.Summary.AbsolutePerfPct,
		rec.Summary.OutperfCash, rec.Summary.OutperfPct,
		rec.Summary.MaxDrawdownCash, rec.Summary.MaxDrawdownPct,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %d: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns runs matching f, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if f.Symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(f.Symbol))
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		rec                   RunRecord
		start, end, createdAt string
	)
	err := sc.Scan(
		&rec.ID, &rec.Symbol, &rec.Momentum, &rec.Timeframe, &start, &end,
		&rec.Amount, &rec.Cost, &rec.Leverage,
		&rec.Observations, &rec.Trades,
		&rec.Summary.AbsolutePerfCash, &rec.Summary.AbsolutePerfPct,
		&rec.Summary.OutperfCash, &rec.Summary.OutperfPct,
		&rec.Summary.MaxDrawdownCash, &rec.Summary.MaxDrawdownPct,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Start = parseTime(start)
	rec.End = parseTime(end)
	rec.CreatedAt = parseTime(createdAt)
	return &rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
