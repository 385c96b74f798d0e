package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/webitel/media_jobs/internal/model"
)

type fakeCanceller struct {
	flagged []string
	held    bool
}

func (f *fakeCanceller) RequestCancel(id string) bool {
	f.flagged = append(f.flagged, id)

	return f.held
}

func (e *testEnv) admission(t *testing.T, c Canceller, pathMap ...string) *Admission {
	t.Helper()

	mapper, err := NewPathMapper(pathMap)
	require.NoError(t, err)

	a := NewAdmission(e.ctx, testLogger(), e.jobs, e.tracker, e.queue, c, NewClassifier(nil, nil), mapper)
	t.Cleanup(a.Wait)

	return a
}

func TestAdmission_SubmitSingle(t *testing.T) {
	env := newTestEnv(t, nil, defaultEnvSettings())
	ctx := context.Background()

	t.Run("Queued", func(t *testing.T) {
		// Arrange
		path := env.file(t, "films/Alien.MP4")

		// Act
		j, err := env.adm.SubmitSingle(ctx, path, model.PriorityLow, "")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, model.StatusQueued, j.Status)
		assert.Equal(t, model.ClassHeavy, j.Class)
		assert.Equal(t, SourceManual, j.Source)
		assert.Nil(t, j.GroupID)

		got, err := env.store.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, path, got.Path)
		assert.Equal(t, model.PriorityLow, got.Priority)
		assert.True(t, env.queue.Contains(j.ID))
	})

	t.Run("Rejections", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Join(env.dir, "season.mkv"), 0o755))

		tests := []struct {
			name string
			path string
			err  error
		}{
			{"relative path", "films/a.mkv", model.ErrInvalidArgument},
			{"empty path", "", model.ErrInvalidArgument},
			{"unsupported extension", env.file(t, "notes.txt"), model.ErrUnsupportedFile},
			{"missing file", filepath.Join(env.dir, "gone.mkv"), model.ErrInvalidArgument},
			{"directory", filepath.Join(env.dir, "season.mkv"), model.ErrInvalidArgument},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Act
				j, err := env.adm.SubmitSingle(ctx, tt.path, model.PriorityNormal, "")

				// Assert
				require.ErrorIs(t, err, tt.err)
				assert.Nil(t, j)
			})
		}
	})
}

func TestAdmission_SubmitGroup(t *testing.T) {
	env := newTestEnv(t, nil, defaultEnvSettings())
	ctx := context.Background()

	t.Run("Duplicates collapsed and rejections reported", func(t *testing.T) {
		// Arrange
		a, b := env.file(t, "tv/e1.mkv"), env.file(t, "tv/e2.m4v")
		paths := []string{a, b, a, " " + b + " ", filepath.Join(env.dir, "tv/e3.mkv"), env.file(t, "tv/e1.srt")}

		// Act
		res, err := env.adm.SubmitGroup(ctx, model.OriginEvent, "sonarr", paths, model.PriorityNormal, "sonarr")

		// Assert
		require.NoError(t, err)
		require.Len(t, res.Jobs, 2)
		assert.Len(t, res.Rejected, 2)

		require.NotNil(t, res.Group)
		assert.True(t, res.Group.Sealed)
		require.NotNil(t, res.Group.Total)
		assert.Equal(t, 2, *res.Group.Total)
		assert.Equal(t, 2, res.Group.Queued)

		for _, j := range res.Jobs {
			assert.Equal(t, res.Group.ID, j.Group())
			assert.Equal(t, "sonarr", j.Source)
		}
	})

	t.Run("Nothing admissible", func(t *testing.T) {
		// Act
		res, err := env.adm.SubmitGroup(ctx, model.OriginEvent, "radarr",
			[]string{"relative.mkv", env.file(t, "cover.jpg")}, model.PriorityNormal, "radarr")

		// Assert
		require.ErrorIs(t, err, model.ErrInvalidArgument)
		require.NotNil(t, res)
		assert.Nil(t, res.Group)
		assert.Len(t, res.Rejected, 2)
	})
}

// putFails accepts the first ok inserts and fails every later one.
type putFails struct {
	JobStore
	puts *atomic.Int32
	ok   int32
}

func (p *putFails) Put(ctx context.Context, j *model.Job) error {
	if p.puts.Inc() > p.ok {
		return errors.Wrap(model.ErrStoreUnavailable, "disk I/O error")
	}

	return p.JobStore.Put(ctx, j)
}

func TestAdmission_SubmitGroupPartial(t *testing.T) {
	// Arrange
	s := defaultEnvSettings()
	s.jobs = func(js JobStore) JobStore {
		return &putFails{JobStore: js, puts: atomic.NewInt32(0), ok: 1}
	}

	env := newTestEnv(t, nil, s)
	ctx := context.Background()
	paths := []string{env.file(t, "e1.mkv"), env.file(t, "e2.mkv"), env.file(t, "e3.mkv")}

	// Act
	res, err := env.adm.SubmitGroup(ctx, model.OriginEvent, "sonarr", paths, model.PriorityNormal, "sonarr")

	// Assert
	require.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "admitted 1 of 3")

	require.NotNil(t, res)
	require.NotNil(t, res.Group)
	require.Len(t, res.Jobs, 1)
	assert.True(t, env.queue.Contains(res.Jobs[0].ID))

	g, err := env.tracker.Group(ctx, res.Group.ID)
	require.NoError(t, err)
	assert.True(t, g.Sealed)
	require.NotNil(t, g.Total)
	assert.Equal(t, 1, *g.Total)
}

func TestAdmission_SubmitEvent(t *testing.T) {
	// Arrange
	env := newTestEnv(t, nil, defaultEnvSettings())
	adm := env.admission(t, env.pool, "/data/media="+env.dir)
	env.file(t, "movies/Heat (1995)/Heat.mkv")

	// Act
	res, err := adm.SubmitEvent(context.Background(), "radarr", []string{"/data/media/movies/Heat (1995)/Heat.mkv"})

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)

	j := res.Jobs[0]
	assert.Equal(t, filepath.Join(env.dir, "movies/Heat (1995)/Heat.mkv"), j.Path)
	assert.Equal(t, model.PriorityUrgent, j.Priority)
	assert.Equal(t, "radarr", j.Source)
	assert.Equal(t, model.OriginEvent, res.Group.Origin)
	assert.Equal(t, "radarr", res.Group.OriginRef)
}

func TestAdmission_SubmitScan(t *testing.T) {
	env := newTestEnv(t, nil, defaultEnvSettings())
	ctx := context.Background()

	root := filepath.Join(env.dir, "library")
	files := []string{
		env.file(t, "library/a.mkv"),
		env.file(t, "library/b.mp4"),
		env.file(t, "library/show/s01/e1.mkv"),
		env.file(t, "library/show/s01/e2.mov"),
	}

	env.file(t, "library/readme.txt")
	env.file(t, "library/.trash/old.mkv")

	t.Run("Dry run", func(t *testing.T) {
		tests := []struct {
			name string
			req  ScanRequest
			want []string
		}{
			{"recursive", ScanRequest{Root: root, Recursive: true, DryRun: true}, files},
			{"top level only", ScanRequest{Root: root, DryRun: true}, files[:2]},
			{"extension filter", ScanRequest{Root: root, Recursive: true, Extensions: []string{"MKV"}, DryRun: true},
				[]string{files[0], files[2]}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Act
				res, err := env.adm.SubmitScan(ctx, tt.req)

				// Assert
				require.NoError(t, err)
				assert.True(t, res.DryRun)
				assert.Nil(t, res.Group)

				got := append([]string(nil), res.Files...)
				want := append([]string(nil), tt.want...)
				sort.Strings(got)
				sort.Strings(want)
				assert.Equal(t, want, got)
			})
		}

		counts, err := env.store.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Zero(t, counts[model.StatusQueued], "dry run creates no jobs")
	})

	t.Run("Scan admits and seals", func(t *testing.T) {
		// Act
		res, err := env.adm.SubmitScan(ctx, ScanRequest{Root: root, Recursive: true, Priority: model.PriorityLow})
		require.NoError(t, err)
		require.NotNil(t, res.Group)
		assert.False(t, res.DryRun)

		// Assert
		require.Eventually(t, func() bool {
			g, err := env.tracker.Group(ctx, res.Group.ID)

			return err == nil && g.Sealed
		}, waitFor, 10*time.Millisecond)

		g, err := env.tracker.Group(ctx, res.Group.ID)
		require.NoError(t, err)
		require.NotNil(t, g.Total)
		assert.Equal(t, len(files), *g.Total)
		assert.Equal(t, len(files), g.Queued)
		assert.Equal(t, model.OriginScan, g.Origin)
		assert.Equal(t, root, g.OriginRef)

		jobs, err := env.store.List(ctx, model.JobFilter{GroupID: g.ID})
		require.NoError(t, err)
		require.Len(t, jobs, len(files))

		for _, j := range jobs {
			assert.Equal(t, SourceScan, j.Source)
			assert.Equal(t, model.PriorityLow, j.Priority)
		}
	})

	t.Run("Bad requests", func(t *testing.T) {
		tests := []struct {
			name string
			req  ScanRequest
			err  error
		}{
			{"relative root", ScanRequest{Root: "library"}, model.ErrInvalidArgument},
			{"missing root", ScanRequest{Root: filepath.Join(env.dir, "nope")}, model.ErrInvalidArgument},
			{"root is a file", ScanRequest{Root: files[0]}, model.ErrInvalidArgument},
			{"missing root dry run", ScanRequest{Root: filepath.Join(env.dir, "nope"), DryRun: true}, model.ErrInvalidArgument},
			{"no enabled extension", ScanRequest{Root: root, Extensions: []string{".avi"}}, model.ErrUnsupportedFile},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Act
				res, err := env.adm.SubmitScan(ctx, tt.req)

				// Assert
				require.ErrorIs(t, err, tt.err)
				assert.Nil(t, res)
			})
		}
	})
}

func TestAdmission_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("Queued", func(t *testing.T) {
		// Arrange
		env := newTestEnv(t, nil, defaultEnvSettings())
		j, err := env.adm.SubmitSingle(ctx, env.file(t, "a.mkv"), model.PriorityNormal, "")
		require.NoError(t, err)

		// Act
		got, err := env.adm.Cancel(ctx, j.ID)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, got.Status)
		assert.Equal(t, string(model.OutcomeCancelled), got.ResultCode)
		assert.False(t, env.queue.Contains(j.ID))
	})

	t.Run("Terminal", func(t *testing.T) {
		// Arrange
		env := newTestEnv(t, nil, defaultEnvSettings())
		j, err := env.adm.SubmitSingle(ctx, env.file(t, "a.mkv"), model.PriorityNormal, "")
		require.NoError(t, err)
		_, err = env.store.CompareAndSetStatus(ctx, j.ID, model.StatusQueued, model.StatusRunning, model.JobPatch{})
		require.NoError(t, err)
		_, err = env.store.CompareAndSetStatus(ctx, j.ID, model.StatusRunning, model.StatusSucceeded, model.JobPatch{})
		require.NoError(t, err)

		// Act
		_, err = env.adm.Cancel(ctx, j.ID)

		// Assert
		require.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("Missing", func(t *testing.T) {
		env := newTestEnv(t, nil, defaultEnvSettings())

		_, err := env.adm.Cancel(ctx, "missing")

		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("Running", func(t *testing.T) {
		tests := []struct {
			name string
			held bool
			err  error
		}{
			{"held by a worker", true, nil},
			{"not held by any worker", false, model.ErrConflict},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				// Arrange
				env := newTestEnv(t, nil, defaultEnvSettings())
				c := &fakeCanceller{held: tt.held}
				adm := env.admission(t, c)

				j, err := adm.SubmitSingle(ctx, env.file(t, "a.mkv"), model.PriorityNormal, "")
				require.NoError(t, err)
				_, err = env.store.CompareAndSetStatus(ctx, j.ID, model.StatusQueued, model.StatusRunning, model.JobPatch{})
				require.NoError(t, err)

				// Act
				got, err := adm.Cancel(ctx, j.ID)

				// Assert
				if tt.err != nil {
					require.ErrorIs(t, err, tt.err)
					assert.Len(t, c.flagged, cancelRetries)

					return
				}

				require.NoError(t, err)
				assert.Equal(t, model.StatusRunning, got.Status)
				assert.Equal(t, []string{j.ID}, c.flagged)
			})
		}
	})
}

func TestAdmission_CancelGroup(t *testing.T) {
	// Arrange
	env := newTestEnv(t, nil, defaultEnvSettings())
	c := &fakeCanceller{held: true}
	adm := env.admission(t, c)
	ctx := context.Background()

	paths := []string{env.file(t, "e1.mkv"), env.file(t, "e2.mkv"), env.file(t, "e3.mp4")}
	res, err := adm.SubmitGroup(ctx, model.OriginEvent, "sonarr", paths, model.PriorityNormal, "sonarr")
	require.NoError(t, err)

	running := res.Jobs[0]
	_, err = env.store.CompareAndSetStatus(ctx, running.ID, model.StatusQueued, model.StatusRunning, model.JobPatch{})
	require.NoError(t, err)
	env.tracker.OnTransition(ctx, res.Group.ID, running.ID, model.StatusQueued, model.StatusRunning)

	// Act
	n, err := adm.CancelGroup(ctx, res.Group.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{running.ID}, c.flagged)

	g, err := env.tracker.Group(ctx, res.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Counters{Running: 1, Cancelled: 2}, g.Counters)

	_, err = adm.CancelGroup(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
