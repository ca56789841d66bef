package stats

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS decision_counts (
	endpoint TEXT PRIMARY KEY,
	admitted BIGINT NOT NULL DEFAULT 0,
	rejected BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const postgresUpsert = `
INSERT INTO decision_counts (endpoint, admitted, rejected, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (endpoint) DO UPDATE SET
	admitted = decision_counts.admitted + EXCLUDED.admitted,
	rejected = decision_counts.rejected + EXCLUDED.rejected,
	updated_at = EXCLUDED.updated_at`

// PostgresRecorder keeps per-endpoint counters in PostgreSQL.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects to dsn and creates the counters table if
// needed.
func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL stats")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresRecorder{pool: pool}, nil
}

func (ps *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	var admitted, rejected int64 = 0, 1
	if ev.Admitted {
		admitted, rejected = 1, 0
	}
	if _, err := ps.pool.Exec(ctx, postgresUpsert, ev.Endpoint, admitted, rejected); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (ps *PostgresRecorder) Summary(ctx context.Context) (*Summary, error) {
	rows, err := ps.pool.Query(ctx, `SELECT endpoint, admitted, rejected FROM decision_counts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	type row struct {
		Endpoint string
		Admitted int64
		Rejected int64
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("failed to read stats rows: %w", err)
	}

	summary := &Summary{Endpoints: make(map[string]Counters, len(collected))}
	for _, r := range collected {
		summary.Endpoints[r.Endpoint] = Counters{Admitted: r.Admitted, Rejected: r.Rejected}
		summary.Total.Admitted += r.Admitted
		summary.Total.Rejected += r.Rejected
	}
	return summary, nil
}

// Reset deletes all counters. Intended for tests.
func (ps *PostgresRecorder) Reset(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, `TRUNCATE decision_counts`)
	return err
}

func (ps *PostgresRecorder) Close() error {
	ps.pool.Close()
	return nil
}
