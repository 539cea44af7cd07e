package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apigate/gatewayd/internal/config"
	"github.com/apigate/gatewayd/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxConns, cfg.MinConns,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// rebind converts ? placeholders to the $N form pgx expects.
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *PostgresDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	start := time.Now()
	_, err := db.Pool.Exec(ctx, rebind(query), args...)
	metrics.GetMetrics().RecordDBQuery(time.Since(start))
	if err != nil {
		metrics.GetMetrics().RecordDBError()
	}
	return err
}

func (db *PostgresDB) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return db.Pool.QueryRow(ctx, rebind(query), args...)
}

func (db *PostgresDB) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	start := time.Now()
	rows, err := db.Pool.Query(ctx, rebind(query), args...)
	metrics.GetMetrics().RecordDBQuery(time.Since(start))
	if err != nil {
		metrics.GetMetrics().RecordDBError()
		return nil, err
	}
	return &pgxRows{rows: rows}, nil
}

type pgxRows struct {
	rows interface {
		Next() bool
		Scan(dest ...interface{}) error
		Close()
	}
}

func (r *pgxRows) Next() bool                         { return r.rows.Next() }
func (r *pgxRows) Scan(dest ...interface{}) error     { return r.rows.Scan(dest...) }
func (r *pgxRows) Close()                             { r.rows.Close() }

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.Pool.Close()
	return nil
}

func (db *PostgresDB) Migrate() error {
	ctx := context.Background()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS apis (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			path TEXT NOT NULL,
			servers TEXT NOT NULL DEFAULT '[]',
			allowed_headers TEXT NOT NULL DEFAULT '[]',
			allowed_retry_count INTEGER NOT NULL DEFAULT 0,
			tokens_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			token_group TEXT NOT NULL DEFAULT '',
			authorization_field_swap TEXT NOT NULL DEFAULT '',
			validation_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (name, version)
		)`,

		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			api_id TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			uri TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (api_id, method, uri)
		)`,

		`CREATE TABLE IF NOT EXISTS endpoint_validations (
			endpoint_id TEXT PRIMARY KEY REFERENCES endpoints(id) ON DELETE CASCADE,
			validation_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			schema TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS routings (
			client_key TEXT PRIMARY KEY,
			servers TEXT NOT NULL DEFAULT '[]',
			server_index INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			rate_limit INTEGER NOT NULL DEFAULT 10,
			rate_limit_duration TEXT NOT NULL DEFAULT 'minute',
			throttle_limit INTEGER NOT NULL DEFAULT 5,
			throttle_duration TEXT NOT NULL DEFAULT 'second',
			throttle_wait DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			throttle_wait_duration TEXT NOT NULL DEFAULT 'second',
			throttle_queue_limit INTEGER NOT NULL DEFAULT 10,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS token_defs (
			group_name TEXT PRIMARY KEY,
			api_header TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS user_tokens (
			username TEXT NOT NULL,
			group_name TEXT NOT NULL,
			available INTEGER NOT NULL DEFAULT 0,
			user_key TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (username, group_name)
		)`,

		`CREATE TABLE IF NOT EXISTS proto_descriptors (
			api_name TEXT NOT NULL,
			version TEXT NOT NULL,
			descriptor BYTEA NOT NULL,
			PRIMARY KEY (api_name, version)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_endpoints_api_id ON endpoints(api_id)`,
		`CREATE INDEX IF NOT EXISTS idx_apis_name_version ON apis(name, version)`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
