package pgsql

import (
	"context"
	stdsql "database/sql"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
)

type DB struct {
	pool *pgxpool.Pool
	std  *stdsql.DB
	log  *wlog.Logger
}

func New(ctx context.Context, dsn string, log *wlog.Logger) (sql.Store, error) {
	dbCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	db := &DB{
		pool: pool,
		std:  stdlib.OpenDBFromPool(pool),
		log:  log.With(wlog.String("scope", "pgsql")),
	}

	return db, nil
}

func (db *DB) Select(ctx context.Context, out any, query string, args sql.Args) error {
	return pgxscan.Select(ctx, db.pool, out, query, pgx.NamedArgs(args))
}

func (db *DB) Get(ctx context.Context, out any, query string, args sql.Args) error {
	err := pgxscan.Get(ctx, db.pool, out, query, pgx.NamedArgs(args))
	if pgxscan.NotFound(err) {
		return sql.ErrNoRows
	}

	return err
}

func (db *DB) Exec(ctx context.Context, query string, args sql.Args) (int64, error) {
	res, err := db.pool.Exec(ctx, query, pgx.NamedArgs(args))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected(), nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) DB() *stdsql.DB {
	return db.std
}

func (db *DB) Dialect() string {
	return sql.DialectPostgres
}

func (db *DB) Close() error {
	if err := db.std.Close(); err != nil {
		db.log.Error(err.Error(), wlog.Err(err))
	}

	db.pool.Close()

	return nil
}
