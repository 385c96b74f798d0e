package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/internal/model"
)

type GroupStore interface {
	Create(ctx context.Context, g *model.JobGroup) error
	Get(ctx context.Context, id string) (*model.JobGroup, error)
	Attach(ctx context.Context, id string) error
	Move(ctx context.Context, id string, from, to model.Status) error
	Resync(ctx context.Context, id string) error
	Seal(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) (bool, error)
	Reconcile(ctx context.Context) error
	Unfinished(ctx context.Context) ([]*model.JobGroup, error)
}

// Tracker keeps group counters in step with member job transitions. Counter
// writes follow the job write, so a crash between the two leaves drift that
// Reconcile repairs at startup.
type Tracker struct {
	groups GroupStore
	log    *wlog.Logger
}

func NewTracker(log *wlog.Logger, groups GroupStore) *Tracker {
	return &Tracker{
		groups: groups,
		log:    log.With(wlog.String("scope", "groups")),
	}
}

// CreateGroup registers a group. A known total seals it right away; scans
// pass nil and call Seal when enumeration ends.
func (t *Tracker) CreateGroup(ctx context.Context, kind model.OriginKind, ref string, total *int) (*model.JobGroup, error) {
	g := &model.JobGroup{
		ID:        model.NewID(),
		Origin:    kind,
		OriginRef: ref,
		Total:     total,
		Sealed:    total != nil,
		CreatedAt: model.Now(),
	}

	if err := t.groups.Create(ctx, g); err != nil {
		return nil, err
	}

	t.log.Debug("group created", wlog.String("group_id", g.ID), wlog.String("origin", string(kind)),
		wlog.String("ref", ref))

	return g, nil
}

// AttachJob counts a new member. When the counter write fails the group is
// resynced from the job rows, which already include the new job.
func (t *Tracker) AttachJob(ctx context.Context, groupID, jobID string) error {
	if groupID == "" {
		return nil
	}

	err := t.groups.Attach(ctx, groupID)
	if err == nil {
		return nil
	}

	t.log.Error(err.Error(), wlog.Err(err), wlog.String("group_id", groupID), wlog.String("job_id", jobID))

	if rerr := t.resync(ctx, groupID); rerr != nil {
		return err
	}

	return nil
}

// OnTransition moves one unit between counters. Failures are not returned:
// the job row is already authoritative and the counters are resynced from it.
func (t *Tracker) OnTransition(ctx context.Context, groupID, jobID string, from, to model.Status) {
	if groupID == "" {
		return
	}

	err := t.groups.Move(ctx, groupID, from, to)
	if err == nil {
		return
	}

	log := t.log.With(wlog.String("group_id", groupID), wlog.String("job_id", jobID),
		wlog.String("from", string(from)), wlog.String("to", string(to)))

	if errors.Is(err, model.ErrCounterDrift) {
		log.Warn(err.Error())
	} else {
		log.Error(err.Error(), wlog.Err(err))
	}

	_ = t.resync(ctx, groupID)
}

func (t *Tracker) resync(ctx context.Context, groupID string) error {
	if err := t.groups.Resync(ctx, groupID); err != nil {
		// startup reconcile repairs it
		t.log.Error(err.Error(), wlog.Err(err), wlog.String("group_id", groupID))

		return err
	}

	t.log.Info("group counters resynced", wlog.String("group_id", groupID))

	return nil
}

// OnJobTerminal records a terminal transition and completes the group when
// it was the last outstanding member.
func (t *Tracker) OnJobTerminal(ctx context.Context, groupID, jobID string, from, to model.Status) {
	if groupID == "" {
		return
	}

	t.OnTransition(ctx, groupID, jobID, from, to)
	t.complete(ctx, groupID)
}

// Seal fixes the total of a scan group from the jobs attached so far.
func (t *Tracker) Seal(ctx context.Context, groupID string) error {
	if err := t.groups.Seal(ctx, groupID); err != nil {
		return err
	}

	t.complete(ctx, groupID)

	return nil
}

func (t *Tracker) complete(ctx context.Context, groupID string) {
	done, err := t.groups.MarkCompleted(ctx, groupID)
	if err != nil {
		t.log.Error(err.Error(), wlog.Err(err), wlog.String("group_id", groupID))

		return
	}

	if done {
		t.log.Info("group completed", wlog.String("group_id", groupID))
	}
}

func (t *Tracker) Group(ctx context.Context, groupID string) (*model.JobGroup, error) {
	return t.groups.Get(ctx, groupID)
}

func (t *Tracker) Progress(ctx context.Context, groupID string) (*model.GroupView, error) {
	g, err := t.groups.Get(ctx, groupID)
	if err != nil {
		return nil, err
	}

	return &model.GroupView{JobGroup: g, Progress: g.Progress()}, nil
}

// Reconcile recomputes counters from job rows and completes groups whose
// last member finished before a crash.
func (t *Tracker) Reconcile(ctx context.Context) error {
	if err := t.groups.Reconcile(ctx); err != nil {
		return err
	}

	groups, err := t.groups.Unfinished(ctx)
	if err != nil {
		return err
	}

	for _, g := range groups {
		t.complete(ctx, g.ID)
	}

	return nil
}
