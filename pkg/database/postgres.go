package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/hedgefund/pkg/config"
)

// ErrNotConfigured is returned when DATABASE_URL is empty
var ErrNotConfigured = errors.New("database not configured")

// DB wraps the pgxpool.Pool
// ⭐ SSOT: the only place a Postgres pool is created
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping checks if the database is accessible
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// PoolStats is a subset of pgxpool statistics surfaced by the provider status endpoint
type PoolStats struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	MaxConns      int32 `json:"max_conns"`
	TotalConns    int32 `json:"total_conns"`
}

// Stats returns the current pool statistics
func (db *DB) Stats() PoolStats {
	stats := db.Pool.Stat()
	return PoolStats{
		AcquiredConns: stats.AcquiredConns(),
		IdleConns:     stats.IdleConns(),
		MaxConns:      stats.MaxConns(),
		TotalConns:    stats.TotalConns(),
	}
}

// Migrate creates the warehouse tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS data`,
	`CREATE TABLE IF NOT EXISTS data.daily_prices (
		ticker      TEXT        NOT NULL,
		trade_date  DATE        NOT NULL,
		open        DOUBLE PRECISION NOT NULL,
		high        DOUBLE PRECISION NOT NULL,
		low         DOUBLE PRECISION NOT NULL,
		close       DOUBLE PRECISION NOT NULL,
		volume      BIGINT      NOT NULL DEFAULT 0,
		PRIMARY KEY (ticker, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS data.fundamentals (
		ticker        TEXT  NOT NULL,
		report_period DATE  NOT NULL,
		period        TEXT  NOT NULL,
		currency      TEXT  NOT NULL,
		metrics       JSONB NOT NULL,
		PRIMARY KEY (ticker, report_period, period)
	)`,
	`CREATE TABLE IF NOT EXISTS data.line_items (
		ticker        TEXT  NOT NULL,
		report_period DATE  NOT NULL,
		period        TEXT  NOT NULL,
		currency      TEXT  NOT NULL,
		items         JSONB NOT NULL,
		PRIMARY KEY (ticker, report_period, period)
	)`,
	`CREATE TABLE IF NOT EXISTS data.news (
		ticker     TEXT NOT NULL,
		title      TEXT NOT NULL,
		published  DATE NOT NULL,
		author     TEXT,
		source     TEXT,
		url        TEXT,
		sentiment  TEXT,
		PRIMARY KEY (ticker, title)
	)`,
}
