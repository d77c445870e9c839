package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS quakewatch_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore persists values in a PostgreSQL table through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies connectivity and creates the
// table when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Get retrieves a value by key
func (p *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM quakewatch_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a value by key
func (p *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quakewatch_kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
