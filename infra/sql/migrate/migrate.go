package migrate

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
)

const tableName = "media_jobs_schema"

//go:embed migrations
var migrations embed.FS

// goose keeps its settings in package globals
var mu sync.Mutex

type gooseLogger struct {
	log *wlog.Logger
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}

// Up applies every pending migration for the store's dialect.
func Up(ctx context.Context, store sql.Store, log *wlog.Logger) error {
	mu.Lock()
	defer mu.Unlock()

	dialect := store.Dialect()

	goose.SetBaseFS(migrations)
	goose.SetTableName(tableName)
	goose.SetLogger(&gooseLogger{log: log.With(wlog.String("scope", "migrate"))})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect %s: %w", dialect, err)
	}

	if err := goose.UpContext(ctx, store.DB(), "migrations/"+dialect); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Version reports the applied schema version.
func Version(ctx context.Context, store sql.Store) (int64, error) {
	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetTableName(tableName)

	if err := goose.SetDialect(store.Dialect()); err != nil {
		return 0, err
	}

	return goose.GetDBVersionContext(ctx, store.DB())
}
