package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/config"
	"github.com/webitel/media_jobs/infra/sql/migrate"
	"github.com/webitel/media_jobs/infra/sql/sqlite"
	"github.com/webitel/media_jobs/internal/gate"
	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/queue"
	"github.com/webitel/media_jobs/internal/store"
)

const waitFor = 5 * time.Second

func testLogger() *wlog.Logger {
	return wlog.NewLogger(&wlog.LoggerConfiguration{EnableConsole: false})
}

func testPoolSettings() PoolSettings {
	return PoolSettings{
		Workers:    2,
		MaxRetry:   2,
		Timeout:    2 * time.Second,
		GateWait:   20 * time.Millisecond,
		Poll:       20 * time.Millisecond,
		BackoffMax: 50 * time.Millisecond,
	}
}

type envSettings struct {
	pool    PoolSettings
	light   int
	heavy   int
	pathMap []string
	// wrap the stores, used to inject outages
	jobs   func(JobStore) JobStore
	groups func(GroupStore) GroupStore
}

func defaultEnvSettings() envSettings {
	return envSettings{pool: testPoolSettings(), light: 2, heavy: 1}
}

type testEnv struct {
	store   *store.JobStore
	jobs    JobStore
	groups  *store.GroupStore
	tracker *Tracker
	queue   *queue.Queue
	gate    *gate.Gate
	pool    *Pool
	adm     *Admission
	status  *Status
	dir     string
	ctx     context.Context
}

func newTestEnv(t *testing.T, op Operation, s envSettings) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	log := testLogger()

	db, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "jobs.db"), log)
	require.NoError(t, err)
	require.NoError(t, migrate.Up(ctx, db, log))

	env := &testEnv{
		store:  store.NewJobStore(log, db),
		groups: store.NewGroupStore(log, db),
		queue:  queue.New(),
		gate:   gate.New(log, map[model.ResourceClass]int{model.ClassLight: s.light, model.ClassHeavy: s.heavy}),
		dir:    t.TempDir(),
		ctx:    ctx,
	}

	env.jobs = env.store
	if s.jobs != nil {
		env.jobs = s.jobs(env.store)
	}

	mapper, err := NewPathMapper(s.pathMap)
	require.NoError(t, err)

	var groups GroupStore = env.groups
	if s.groups != nil {
		groups = s.groups(env.groups)
	}

	env.tracker = NewTracker(log, groups)
	env.pool = NewPool(log, s.pool, env.jobs, env.queue, env.gate, env.tracker, op)
	env.adm = NewAdmission(ctx, log, env.jobs, env.tracker, env.queue, env.pool, NewClassifier(nil, nil), mapper)
	env.status = NewStatus(&config.Config{}, log, env.jobs, env.tracker, env.queue, env.gate, env.pool)

	t.Cleanup(func() {
		cancel()
		env.pool.Stop()
		env.adm.Wait()
		_ = db.Close()
	})

	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()

	require.NoError(t, e.pool.Start(e.ctx))
}

// file creates an empty media file and returns its absolute path.
func (e *testEnv) file(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(e.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))

	return path
}

func (e *testEnv) waitStatus(t *testing.T, id string, want model.Status) *model.Job {
	t.Helper()

	var last *model.Job

	require.Eventually(t, func() bool {
		j, err := e.store.Get(context.Background(), id)
		if err != nil {
			return false
		}

		last = j

		return j.Status == want
	}, waitFor, 10*time.Millisecond, "job %s never became %s", id, want)

	return last
}

// flakyStore fails the calls a worker makes while down is set.
type flakyStore struct {
	JobStore
	down *atomic.Bool
}

func (f *flakyStore) outage() error {
	return errors.Wrap(model.ErrStoreUnavailable, "dial tcp 127.0.0.1:5432: connect: connection refused")
}

func (f *flakyStore) CompareAndSetStatus(ctx context.Context, id string, expected, next model.Status,
	patch model.JobPatch,
) (*model.Job, error) {
	if f.down.Load() {
		return nil, f.outage()
	}

	return f.JobStore.CompareAndSetStatus(ctx, id, expected, next, patch)
}

func (f *flakyStore) Ping(ctx context.Context) error {
	if f.down.Load() {
		return f.outage()
	}

	return f.JobStore.Ping(ctx)
}

func (f *flakyStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	if f.down.Load() {
		return nil, f.outage()
	}

	return f.JobStore.CountByStatus(ctx)
}

// lossyGroups fails the n-th Attach and, when resyncDown is set, every Resync.
type lossyGroups struct {
	GroupStore
	attaches   *atomic.Int32
	failAttach int32
	resyncDown bool
}

func (l *lossyGroups) Attach(ctx context.Context, id string) error {
	if l.attaches.Inc() == l.failAttach {
		return errors.Wrap(model.ErrStoreUnavailable, "database is locked")
	}

	return l.GroupStore.Attach(ctx, id)
}

func (l *lossyGroups) Resync(ctx context.Context, id string) error {
	if l.resyncDown {
		return errors.Wrap(model.ErrStoreUnavailable, "database is locked")
	}

	return l.GroupStore.Resync(ctx, id)
}
