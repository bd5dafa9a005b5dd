package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores claims in a PostgreSQL table
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects with dsn and creates the claims table if needed
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS recording_claims (
		recording_id TEXT PRIMARY KEY,
		claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) TryClaim(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}

	tag, err := l.pool.Exec(ctx,
		`INSERT INTO recording_claims (recording_id) VALUES ($1) ON CONFLICT (recording_id) DO NOTHING`, id)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PostgresLedger) Contains(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recording_claims WHERE recording_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (l *PostgresLedger) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recording_claims`).Scan(&n)
	return n, err
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
