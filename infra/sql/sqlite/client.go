package sqlite

import (
	"context"
	stdsql "database/sql"
	"os"
	"path/filepath"
	"sort"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
)

const busyTimeoutMs = "5000"

type DB struct {
	db  *sqlx.DB
	log *wlog.Logger
}

// New opens (creating when missing) the embedded database at path. A single
// connection serializes writers, WAL keeps readers from blocking them.
func New(ctx context.Context, path string, log *wlog.Logger) (sql.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=" + busyTimeoutMs + "&_foreign_keys=on"

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	return Wrap(db, log), nil
}

// Wrap adapts an already opened handle.
func Wrap(db *sqlx.DB, log *wlog.Logger) sql.Store {
	return &DB{
		db:  db,
		log: log.With(wlog.String("scope", "sqlite")),
	}
}

func (db *DB) Select(ctx context.Context, out any, query string, args sql.Args) error {
	return db.db.SelectContext(ctx, out, query, named(args)...)
}

func (db *DB) Get(ctx context.Context, out any, query string, args sql.Args) error {
	err := db.db.GetContext(ctx, out, query, named(args)...)
	if errors.Is(err, stdsql.ErrNoRows) {
		return sql.ErrNoRows
	}

	return err
}

func (db *DB) Exec(ctx context.Context, query string, args sql.Args) (int64, error) {
	res, err := db.db.ExecContext(ctx, query, named(args)...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) DB() *stdsql.DB {
	return db.db.DB
}

func (db *DB) Dialect() string {
	return sql.DialectSQLite
}

func (db *DB) Close() error {
	return db.db.Close()
}

// named turns Args into driver named parameters; go-sqlite3 binds them to
// @name placeholders. Keys are sorted so statements are deterministic.
func named(args sql.Args) []any {
	if len(args) == 0 {
		return nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, stdsql.Named(k, args[k]))
	}

	return out
}
