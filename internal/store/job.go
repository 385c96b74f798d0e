package store

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
	"github.com/webitel/media_jobs/internal/model"
)

const (
	defaultListLimit = 100

	jobColumns = `id, path, class, priority, status, source, group_id, created_at, enqueued_at,
       started_at, completed_at, updated_at, result_code, result_message, attempts, last_error`
)

type JobStore struct {
	db  sql.Store
	log *wlog.Logger
}

func NewJobStore(log *wlog.Logger, db sql.Store) *JobStore {
	return &JobStore{
		db:  db,
		log: log.With(wlog.String("store", "jobs")),
	}
}

// Put inserts the job or overwrites every column of an existing row.
func (s *JobStore) Put(ctx context.Context, j *model.Job) error {
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = model.Now()
	}

	_, err := s.db.Exec(ctx, `insert into jobs (`+jobColumns+`)
values (@id, @path, @class, @priority, @status, @source, @group_id, @created_at, @enqueued_at,
        @started_at, @completed_at, @updated_at, @result_code, @result_message, @attempts, @last_error)
on conflict (id) do update
set path = excluded.path,
    class = excluded.class,
    priority = excluded.priority,
    status = excluded.status,
    source = excluded.source,
    group_id = excluded.group_id,
    created_at = excluded.created_at,
    enqueued_at = excluded.enqueued_at,
    started_at = excluded.started_at,
    completed_at = excluded.completed_at,
    updated_at = excluded.updated_at,
    result_code = excluded.result_code,
    result_message = excluded.result_message,
    attempts = excluded.attempts,
    last_error = excluded.last_error`, sql.Args{
		"id":             j.ID,
		"path":           j.Path,
		"class":          string(j.Class),
		"priority":       int(j.Priority),
		"status":         string(j.Status),
		"source":         j.Source,
		"group_id":       j.GroupID,
		"created_at":     j.CreatedAt,
		"enqueued_at":    j.EnqueuedAt,
		"started_at":     j.StartedAt,
		"completed_at":   j.CompletedAt,
		"updated_at":     j.UpdatedAt,
		"result_code":    j.ResultCode,
		"result_message": j.ResultMessage,
		"attempts":       j.Attempts,
		"last_error":     j.LastError,
	})

	return wrap(err, "put job")
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var j model.Job

	err := s.db.Get(ctx, &j, `select `+jobColumns+` from jobs where id = @id`, sql.Args{"id": id})
	if err != nil {
		if sql.IsNoRows(err) {
			return nil, errors.Wrapf(model.ErrNotFound, "job %s", id)
		}

		return nil, wrap(err, "get job")
	}

	return &j, nil
}

// List returns jobs matching the filter ordered by creation time.
func (s *JobStore) List(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	var (
		where []string
		args  = sql.Args{}
	)

	if f.Status != "" {
		where = append(where, "status = @status")
		args["status"] = string(f.Status)
	}

	if f.GroupID != "" {
		where = append(where, "group_id = @group_id")
		args["group_id"] = f.GroupID
	}

	if f.Class != "" {
		where = append(where, "class = @class")
		args["class"] = string(f.Class)
	}

	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}

	args["limit"] = f.Limit
	args["offset"] = f.Offset

	q := `select ` + jobColumns + ` from jobs`
	if len(where) > 0 {
		q += ` where ` + strings.Join(where, " and ")
	}

	q += ` order by created_at, id limit @limit offset @offset`

	var jobs []*model.Job
	if err := s.db.Select(ctx, &jobs, q, args); err != nil {
		return nil, wrap(err, "list jobs")
	}

	return jobs, nil
}

// ListNonTerminal returns queued and running jobs in dispatch order.
func (s *JobStore) ListNonTerminal(ctx context.Context) ([]*model.Job, error) {
	var jobs []*model.Job

	err := s.db.Select(ctx, &jobs, `select `+jobColumns+`
from jobs
where status in ('queued', 'running')
order by priority, enqueued_at, id`, nil)
	if err != nil {
		return nil, wrap(err, "list active jobs")
	}

	return jobs, nil
}

// CompareAndSetStatus moves a job from expected to next and applies patch in
// the same statement. It is the only path that changes a job status outside of
// recovery. An illegal edge is refused before the row is touched; a stale
// expected status yields a conflict.
func (s *JobStore) CompareAndSetStatus(ctx context.Context, id string, expected, next model.Status,
	patch model.JobPatch,
) (*model.Job, error) {
	if !model.CanTransition(expected, next) {
		err := &model.TransitionError{JobID: id, Expected: expected, Next: next, Err: model.ErrInvalidTransition}
		s.log.Error(err.Error(), wlog.String("job_id", id), wlog.String("from", string(expected)),
			wlog.String("to", string(next)))

		return nil, err
	}

	now := model.Now()

	var completedAt any
	if next.Terminal() {
		completedAt = now
	}

	n, err := s.db.Exec(ctx, `update jobs
set status = @next,
    updated_at = @now,
    started_at = coalesce(@started_at, started_at),
    completed_at = @completed_at,
    result_code = coalesce(@result_code, result_code),
    result_message = coalesce(@result_message, result_message),
    last_error = coalesce(@last_error, last_error),
    attempts = attempts + @add_attempts
where id = @id
  and status = @expected`, sql.Args{
		"id":             id,
		"expected":       string(expected),
		"next":           string(next),
		"now":            now,
		"started_at":     patch.StartedAt,
		"completed_at":   completedAt,
		"result_code":    patch.ResultCode,
		"result_message": patch.ResultMessage,
		"last_error":     patch.LastError,
		"add_attempts":   patch.AddAttempts,
	})
	if err != nil {
		return nil, wrap(err, "update job status")
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		err = &model.TransitionError{JobID: id, Expected: expected, Actual: cur.Status, Next: next, Err: model.ErrConflict}
		s.log.Debug(err.Error(), wlog.String("job_id", id), wlog.String("from", string(expected)),
			wlog.String("to", string(next)))

		return nil, err
	}

	return cur, nil
}

// UpdateRunning records a failed attempt on a job that keeps running.
func (s *JobStore) UpdateRunning(ctx context.Context, id string, patch model.JobPatch) error {
	n, err := s.db.Exec(ctx, `update jobs
set updated_at = @now,
    last_error = coalesce(@last_error, last_error),
    attempts = attempts + @add_attempts
where id = @id
  and status = 'running'`, sql.Args{
		"id":           id,
		"now":          model.Now(),
		"last_error":   patch.LastError,
		"add_attempts": patch.AddAttempts,
	})
	if err != nil {
		return wrap(err, "update running job")
	}

	if n == 0 {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}

		return &model.TransitionError{JobID: id, Expected: model.StatusRunning, Actual: cur.Status,
			Next: model.StatusRunning, Err: model.ErrConflict}
	}

	return nil
}

// Recover requeues every job left running by a previous process. Each one
// gets one more attempt and a fresh FIFO position.
func (s *JobStore) Recover(ctx context.Context) ([]*model.Job, error) {
	var jobs []*model.Job

	err := s.db.Select(ctx, &jobs, `select `+jobColumns+` from jobs where status = 'running' order by enqueued_at, id`, nil)
	if err != nil {
		return nil, wrap(err, "list interrupted jobs")
	}

	if len(jobs) == 0 {
		return nil, nil
	}

	now := model.Now()

	_, err = s.db.Exec(ctx, `update jobs
set status = 'queued',
    attempts = attempts + 1,
    enqueued_at = @now,
    updated_at = @now,
    started_at = null
where status = 'running'`, sql.Args{"now": now})
	if err != nil {
		return nil, wrap(err, "requeue interrupted jobs")
	}

	for _, j := range jobs {
		s.log.Warn("requeue interrupted job", wlog.String("job_id", j.ID), wlog.String("from", string(j.Status)),
			wlog.String("to", string(model.StatusQueued)), wlog.Int("attempt", j.Attempts+1))

		j.Status = model.StatusQueued
		j.Attempts++
		j.EnqueuedAt = now
		j.UpdatedAt = now
		j.StartedAt = nil
	}

	return jobs, nil
}

type statusCount struct {
	Status model.Status `db:"status"`
	Count  int          `db:"count"`
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	var rows []statusCount

	if err := s.db.Select(ctx, &rows, `select status, count(*) as count from jobs group by status`, nil); err != nil {
		return nil, wrap(err, "count jobs")
	}

	res := make(map[model.Status]int, len(model.Statuses))
	for _, r := range rows {
		res[r.Status] = r.Count
	}

	return res, nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return wrap(s.db.Ping(ctx), "ping")
}

// wrap classifies driver failures as store unavailability, keeping the cause
// in the message.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return errors.Wrapf(model.ErrStoreUnavailable, "%s: %v", op, err)
}
