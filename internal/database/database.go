package database

import (
	"context"
	"fmt"

	"github.com/apigate/gatewayd/internal/config"
)

// DB abstracts the durable registry store so the Postgres and SQLite
// backends are interchangeable. Queries are written with ? placeholders;
// each backend rebinds as needed.
type DB interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Ping(ctx context.Context) error
	Close() error
	Migrate() error
}

type Row interface {
	Scan(dest ...interface{}) error
}

type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close()
}

func New(cfg config.DatabaseConfig) (DB, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		return NewPostgresDB(cfg)
	case "sqlite":
		return NewSQLiteDB(cfg.DBName)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
