package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
	"github.com/webitel/media_jobs/internal/model"
)

const groupColumns = `id, origin, origin_ref, total, sealed, queued, running, succeeded, failed, skipped, cancelled,
       created_at, completed_at`

// counterColumn maps a job status to its counter column. Column names cannot
// be bound as parameters so they come only from this table.
var counterColumn = map[model.Status]string{
	model.StatusQueued:    "queued",
	model.StatusRunning:   "running",
	model.StatusSucceeded: "succeeded",
	model.StatusFailed:    "failed",
	model.StatusSkipped:   "skipped",
	model.StatusCancelled: "cancelled",
}

// countersFromJobs recomputes every counter of the current job_groups row
// from its member jobs.
const countersFromJobs = `queued = (select count(*) from jobs j where j.group_id = job_groups.id and j.status = 'queued'),
    running = (select count(*) from jobs j where j.group_id = job_groups.id and j.status = 'running'),
    succeeded = (select count(*) from jobs j where j.group_id = job_groups.id and j.status = 'succeeded'),
    failed = (select count(*) from jobs j where j.group_id = job_groups.id and j.status = 'failed'),
    skipped = (select count(*) from jobs j where j.group_id = job_groups.id and j.status = 'skipped'),
    cancelled = (select count(*) from jobs j where j.group_id = job_groups.id and j.status = 'cancelled')`

type GroupStore struct {
	db  sql.Store
	log *wlog.Logger
}

func NewGroupStore(log *wlog.Logger, db sql.Store) *GroupStore {
	return &GroupStore{
		db:  db,
		log: log.With(wlog.String("store", "groups")),
	}
}

func (s *GroupStore) Create(ctx context.Context, g *model.JobGroup) error {
	_, err := s.db.Exec(ctx, `insert into job_groups (`+groupColumns+`)
values (@id, @origin, @origin_ref, @total, @sealed, 0, 0, 0, 0, 0, 0, @created_at, null)`, sql.Args{
		"id":         g.ID,
		"origin":     string(g.Origin),
		"origin_ref": g.OriginRef,
		"total":      g.Total,
		"sealed":     g.Sealed,
		"created_at": g.CreatedAt,
	})

	return wrap(err, "create group")
}

func (s *GroupStore) Get(ctx context.Context, id string) (*model.JobGroup, error) {
	var g model.JobGroup

	err := s.db.Get(ctx, &g, `select `+groupColumns+` from job_groups where id = @id`, sql.Args{"id": id})
	if err != nil {
		if sql.IsNoRows(err) {
			return nil, errors.Wrapf(model.ErrNotFound, "group %s", id)
		}

		return nil, wrap(err, "get group")
	}

	return &g, nil
}

// Attach counts a new job of the group as queued.
func (s *GroupStore) Attach(ctx context.Context, id string) error {
	n, err := s.db.Exec(ctx, `update job_groups set queued = queued + 1 where id = @id`, sql.Args{"id": id})
	if err != nil {
		return wrap(err, "attach job")
	}

	if n == 0 {
		return errors.Wrapf(model.ErrNotFound, "group %s", id)
	}

	return nil
}

// Move shifts one job between counters. A move out of an empty counter is
// refused with ErrCounterDrift and nothing is written.
func (s *GroupStore) Move(ctx context.Context, id string, from, to model.Status) error {
	fc, ok := counterColumn[from]
	if !ok {
		return errors.Wrapf(model.ErrInvalidArgument, "status %q", from)
	}

	tc, ok := counterColumn[to]
	if !ok {
		return errors.Wrapf(model.ErrInvalidArgument, "status %q", to)
	}

	q := fmt.Sprintf(`update job_groups
set %[1]s = %[1]s - 1,
    %[2]s = %[2]s + 1
where id = @id
  and %[1]s > 0`, fc, tc)

	n, err := s.db.Exec(ctx, q, sql.Args{"id": id})
	if err != nil {
		return wrap(err, "move group counter")
	}

	if n == 0 {
		return errors.Wrapf(model.ErrCounterDrift, "group %s has no %s job to move to %s", id, from, to)
	}

	return nil
}

// Resync recomputes the counters of one group from its member jobs.
func (s *GroupStore) Resync(ctx context.Context, id string) error {
	n, err := s.db.Exec(ctx, `update job_groups
set `+countersFromJobs+`
where id = @id`, sql.Args{"id": id})
	if err != nil {
		return wrap(err, "resync group counters")
	}

	if n == 0 {
		return errors.Wrapf(model.ErrNotFound, "group %s", id)
	}

	return nil
}

// Seal fixes the total of a group whose enumeration is over from the member
// job rows. Sealing twice is a no-op.
func (s *GroupStore) Seal(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `update job_groups
set sealed = true,
    total = coalesce(total, (select count(*) from jobs j where j.group_id = job_groups.id))
where id = @id
  and not sealed`, sql.Args{"id": id})

	return wrap(err, "seal group")
}

// MarkCompleted stamps completed_at once every expected member job is
// terminal. Job rows decide, not the counters, which are rewritten from the
// rows in the same statement. It reports whether this call did the stamping.
func (s *GroupStore) MarkCompleted(ctx context.Context, id string) (bool, error) {
	n, err := s.db.Exec(ctx, `update job_groups
set completed_at = @now,
    `+countersFromJobs+`
where id = @id
  and sealed
  and completed_at is null
  and total is not null
  and not exists (select 1 from jobs j where j.group_id = job_groups.id and j.status in ('queued', 'running'))
  and (select count(*) from jobs j where j.group_id = job_groups.id) >= total`, sql.Args{"id": id, "now": model.Now()})
	if err != nil {
		return false, wrap(err, "complete group")
	}

	return n > 0, nil
}

// Reconcile recomputes every counter of unfinished groups from the jobs table
// and seals scan groups whose enumeration was interrupted.
func (s *GroupStore) Reconcile(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `update job_groups
set `+countersFromJobs+`
where completed_at is null`, nil)
	if err != nil {
		return wrap(err, "reconcile group counters")
	}

	n, err := s.db.Exec(ctx, `update job_groups
set sealed = true,
    total = (select count(*) from jobs j where j.group_id = job_groups.id)
where not sealed`, nil)
	if err != nil {
		return wrap(err, "seal interrupted groups")
	}

	if n > 0 {
		s.log.Warn("sealed interrupted scan groups", wlog.Int("count", int(n)))
	}

	return nil
}

// Unfinished lists groups not yet marked completed.
func (s *GroupStore) Unfinished(ctx context.Context) ([]*model.JobGroup, error) {
	var groups []*model.JobGroup

	err := s.db.Select(ctx, &groups, `select `+groupColumns+` from job_groups where completed_at is null order by created_at`, nil)
	if err != nil {
		return nil, wrap(err, "list unfinished groups")
	}

	return groups, nil
}
