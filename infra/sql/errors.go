package sql

import (
	stdsql "database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrNoRows = errors.New("no rows in result set")

// IsNoRows reports a missing row regardless of the backend that produced it.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows) || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, stdsql.ErrNoRows)
}
