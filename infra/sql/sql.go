package sql

import (
	"context"
	stdsql "database/sql"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Args are named query parameters. Queries reference them as @name on every
// backend.
type Args map[string]any

type Store interface {
	// Select scans every returned row into out, which must be a pointer to a slice.
	Select(ctx context.Context, out any, query string, args Args) error

	// Get scans a single row into out. A missing row is reported as ErrNoRows.
	Get(ctx context.Context, out any, query string, args Args) error

	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args Args) (int64, error)

	Ping(ctx context.Context) error

	// DB exposes a database/sql handle for tooling such as migrations.
	DB() *stdsql.DB

	Dialect() string
	Close() error
}
