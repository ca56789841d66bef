package stats

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decision_counts (
	endpoint TEXT PRIMARY KEY,
	admitted INTEGER NOT NULL DEFAULT 0,
	rejected INTEGER NOT NULL DEFAULT 0
)`

const sqliteUpsert = `
INSERT INTO decision_counts (endpoint, admitted, rejected)
VALUES (?, ?, ?)
ON CONFLICT (endpoint) DO UPDATE SET
	admitted = decision_counts.admitted + excluded.admitted,
	rejected = decision_counts.rejected + excluded.rejected`

// SQLiteRecorder keeps per-endpoint counters in a SQLite table.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens the database at dsn and creates the counters table
// if needed.
func NewSQLiteRecorder(dsn string) (*SQLiteRecorder, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for SQLite stats")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writers serialize on one connection instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

func (s *SQLiteRecorder) Record(ctx context.Context, ev Event) error {
	admitted, rejected := 0, 1
	if ev.Admitted {
		admitted, rejected = 1, 0
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsert, ev.Endpoint, admitted, rejected); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (s *SQLiteRecorder) Summary(ctx context.Context) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT endpoint, admitted, rejected FROM decision_counts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	summary := &Summary{Endpoints: make(map[string]Counters)}
	for rows.Next() {
		var endpoint string
		var c Counters
		if err := rows.Scan(&endpoint, &c.Admitted, &c.Rejected); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		summary.Endpoints[endpoint] = c
		summary.Total.Admitted += c.Admitted
		summary.Total.Rejected += c.Rejected
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stats rows: %w", err)
	}
	return summary, nil
}

func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}
