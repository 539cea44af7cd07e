package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apigate/gatewayd/internal/metrics"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("unable to ping SQLite database: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func (db *SQLiteDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	start := time.Now()
	_, err := db.db.ExecContext(ctx, query, args...)
	metrics.GetMetrics().RecordDBQuery(time.Since(start))
	if err != nil {
		metrics.GetMetrics().RecordDBError()
	}
	return err
}

func (db *SQLiteDB) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *SQLiteDB) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	start := time.Now()
	rows, err := db.db.QueryContext(ctx, query, args...)
	metrics.GetMetrics().RecordDBQuery(time.Since(start))
	if err != nil {
		metrics.GetMetrics().RecordDBError()
		return nil, err
	}
	return &sqliteRows{rows: rows}, nil
}

type sqliteRows struct {
	rows *sql.Rows
}

func (r *sqliteRows) Next() bool                     { return r.rows.Next() }
func (r *sqliteRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r *sqliteRows) Close()                         { r.rows.Close() }

func (db *SQLiteDB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *SQLiteDB) Close() error {
	return db.db.Close()
}

func (db *SQLiteDB) Migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS apis (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			path TEXT NOT NULL,
			servers TEXT NOT NULL DEFAULT '[]',
			allowed_headers TEXT NOT NULL DEFAULT '[]',
			allowed_retry_count INTEGER NOT NULL DEFAULT 0,
			tokens_enabled INTEGER NOT NULL DEFAULT 0,
			token_group TEXT NOT NULL DEFAULT '',
			authorization_field_swap TEXT NOT NULL DEFAULT '',
			validation_enabled INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (name, version)
		)`,

		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			api_id TEXT NOT NULL,
			method TEXT NOT NULL,
			uri TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (api_id, method, uri)
		)`,

		`CREATE TABLE IF NOT EXISTS endpoint_validations (
			endpoint_id TEXT PRIMARY KEY,
			validation_enabled INTEGER NOT NULL DEFAULT 1,
			schema TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS routings (
			client_key TEXT PRIMARY KEY,
			servers TEXT NOT NULL DEFAULT '[]',
			server_index INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			rate_limit INTEGER NOT NULL DEFAULT 10,
			rate_limit_duration TEXT NOT NULL DEFAULT 'minute',
			throttle_limit INTEGER NOT NULL DEFAULT 5,
			throttle_duration TEXT NOT NULL DEFAULT 'second',
			throttle_wait REAL NOT NULL DEFAULT 0.5,
			throttle_wait_duration TEXT NOT NULL DEFAULT 'second',
			throttle_queue_limit INTEGER NOT NULL DEFAULT 10,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
			descriptor BLOB NOT NULL,
			PRIMARY KEY (api_name, version)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_endpoints_api_id ON endpoints(api_id)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
