package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
	"github.com/webitel/media_jobs/infra/sql/migrate"
	"github.com/webitel/media_jobs/infra/sql/sqlite"
	"github.com/webitel/media_jobs/internal/model"
)

func testLogger() *wlog.Logger {
	return wlog.NewLogger(&wlog.LoggerConfiguration{EnableConsole: false})
}

// newTestDB opens a migrated embedded database in a temp dir.
func newTestDB(t *testing.T) sql.Store {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "jobs.db"), testLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, migrate.Up(ctx, db, testLogger()))

	return db
}

func newQueuedJob(path string, class model.ResourceClass, groupID *string) *model.Job {
	now := model.Now()

	return &model.Job{
		ID:         model.NewID(),
		Path:       path,
		Class:      class,
		Priority:   model.PriorityNormal,
		Status:     model.StatusQueued,
		Source:     "manual",
		GroupID:    groupID,
		CreatedAt:  now,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
}

func putJob(t *testing.T, s *JobStore, j *model.Job) *model.Job {
	t.Helper()

	require.NoError(t, s.Put(context.Background(), j))

	return j
}

// tick keeps created_at strictly increasing between rows.
func tick() {
	time.Sleep(2 * time.Millisecond)
}
