package service

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/queue"
)

const (
	SourceManual = "manual"
	SourceScan   = "scan"

	cancelRetries  = 3
	cancelPageSize = 500
)

type Canceller interface {
	RequestCancel(id string) bool
}

type Rejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type GroupResult struct {
	Group    *model.JobGroup `json:"group"`
	Jobs     []*model.Job    `json:"jobs"`
	Rejected []Rejection     `json:"rejected,omitempty"`
}

type ScanRequest struct {
	Root       string
	Recursive  bool
	Extensions []string
	Priority   model.Priority
	DryRun     bool
}

type ScanResult struct {
	Group  *model.JobGroup `json:"group,omitempty"`
	DryRun bool            `json:"dry_run"`
	Files  []string        `json:"files,omitempty"`
}

// Admission turns requests into queued jobs: one durable row per file, then
// group attachment, then the in-memory queue.
type Admission struct {
	ctx        context.Context
	jobs       JobStore
	tracker    *Tracker
	queue      *queue.Queue
	pool       Canceller
	classifier *Classifier
	mapper     *PathMapper
	log        *wlog.Logger
	scans      sync.WaitGroup
}

func NewAdmission(ctx context.Context, log *wlog.Logger, jobs JobStore, tr *Tracker, q *queue.Queue, pool Canceller,
	cl *Classifier, mapper *PathMapper,
) *Admission {
	return &Admission{
		ctx:        ctx,
		jobs:       jobs,
		tracker:    tr,
		queue:      q,
		pool:       pool,
		classifier: cl,
		mapper:     mapper,
		log:        log.With(wlog.String("scope", "admission")),
	}
}

// Wait blocks until background scans have stopped.
func (a *Admission) Wait() {
	a.scans.Wait()
}

// inspect checks that path names an existing regular file of an enabled
// container and returns its class.
func (a *Admission) inspect(path string) (string, model.ResourceClass, error) {
	if path == "" || !filepath.IsAbs(path) {
		return path, "", errors.Wrapf(model.ErrInvalidArgument, "path %q must be absolute", path)
	}

	path = filepath.Clean(path)

	class, err := a.classifier.Classify(path)
	if err != nil {
		return path, "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return path, "", errors.Wrapf(model.ErrInvalidArgument, "%v", err)
	}

	if !info.Mode().IsRegular() {
		return path, "", errors.Wrapf(model.ErrInvalidArgument, "%q is not a regular file", path)
	}

	return path, class, nil
}

func newJob(path string, class model.ResourceClass, p model.Priority, source, groupID string) *model.Job {
	now := model.Now()

	j := &model.Job{
		ID:         model.NewID(),
		Path:       path,
		Class:      class,
		Priority:   p,
		Status:     model.StatusQueued,
		Source:     source,
		CreatedAt:  now,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	if groupID != "" {
		j.GroupID = &groupID
	}

	return j
}

func (a *Admission) admit(ctx context.Context, j *model.Job) error {
	if err := a.jobs.Put(ctx, j); err != nil {
		return err
	}

	if err := a.tracker.AttachJob(ctx, j.Group(), j.ID); err != nil {
		// completion is decided from job rows; startup reconcile restores the counter
		a.log.Warn("job admitted without group counter", wlog.String("job_id", j.ID))
	}

	a.queue.Push(queue.FromJob(j))
	a.log.Debug("job queued", wlog.String("job_id", j.ID), wlog.String("class", string(j.Class)),
		wlog.String("priority", j.Priority.String()), wlog.String("path", j.Path))

	return nil
}

func (a *Admission) SubmitSingle(ctx context.Context, path string, p model.Priority, source string) (*model.Job, error) {
	path, class, err := a.inspect(path)
	if err != nil {
		return nil, err
	}

	if source == "" {
		source = SourceManual
	}

	j := newJob(path, class, p, source, "")
	if err = a.admit(ctx, j); err != nil {
		return nil, err
	}

	return j, nil
}

// SubmitGroup creates one job per admissible path inside a new group.
// Duplicate paths are collapsed; inadmissible ones are reported back.
func (a *Admission) SubmitGroup(ctx context.Context, kind model.OriginKind, ref string, paths []string,
	p model.Priority, source string,
) (*GroupResult, error) {
	type accepted struct {
		path  string
		class model.ResourceClass
	}

	var (
		res  = &GroupResult{}
		ok   []accepted
		seen = make(map[string]bool, len(paths))
	)

	for _, raw := range paths {
		path, class, err := a.inspect(strings.TrimSpace(raw))
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Path: raw, Reason: err.Error()})

			continue
		}

		if seen[path] {
			continue
		}

		seen[path] = true
		ok = append(ok, accepted{path: path, class: class})
	}

	if len(ok) == 0 {
		return res, errors.Wrapf(model.ErrInvalidArgument, "no admissible files among %d", len(paths))
	}

	g, err := a.tracker.CreateGroup(ctx, kind, ref, nil)
	if err != nil {
		return nil, err
	}

	res.Group = g

	for _, f := range ok {
		j := newJob(f.path, f.class, p, source, g.ID)
		if err = a.admit(ctx, j); err != nil {
			break
		}

		res.Jobs = append(res.Jobs, j)
	}

	// a partially admitted group is sealed too so it can still complete
	if serr := a.tracker.Seal(ctx, g.ID); serr != nil && err == nil {
		err = serr
	}

	if err != nil {
		a.log.Warn("group partially admitted", wlog.String("group_id", g.ID), wlog.Int("jobs", len(res.Jobs)),
			wlog.Int("accepted", len(ok)), wlog.Err(err))

		return res, errors.Wrapf(err, "group %s admitted %d of %d files", g.ID, len(res.Jobs), len(ok))
	}

	if res.Group, err = a.tracker.Group(ctx, g.ID); err != nil {
		return res, err
	}

	a.log.Info("group admitted", wlog.String("group_id", g.ID), wlog.String("origin", string(kind)),
		wlog.Int("jobs", len(res.Jobs)), wlog.Int("rejected", len(res.Rejected)))

	return res, nil
}

// SubmitEvent admits the files of a media manager callback at urgent
// priority after mapping them to local paths.
func (a *Admission) SubmitEvent(ctx context.Context, source string, paths []string) (*GroupResult, error) {
	mapped := make([]string, 0, len(paths))
	for _, p := range paths {
		mapped = append(mapped, a.mapper.Map(p))
	}

	return a.SubmitGroup(ctx, model.OriginEvent, source, mapped, model.PriorityUrgent, source)
}

// SubmitScan returns as soon as the group exists; files are enumerated and
// admitted in the background and the group is sealed at the end. A dry run
// only lists the files.
func (a *Admission) SubmitScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if req.Root == "" || !filepath.IsAbs(req.Root) {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "scan root %q must be absolute", req.Root)
	}

	root := filepath.Clean(req.Root)

	exts := a.classifier.Filter(req.Extensions)
	if len(exts) == 0 {
		return nil, errors.Wrapf(model.ErrUnsupportedFile, "extensions %v", req.Extensions)
	}

	if req.DryRun {
		res := &ScanResult{DryRun: true}

		err := walk(ctx, root, req.Recursive, exts, func(path string) error {
			res.Files = append(res.Files, path)

			return nil
		})
		if err != nil {
			return nil, err
		}

		return res, nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "scan root: %v", err)
	}

	if !info.IsDir() {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "scan root %q is not a directory", root)
	}

	g, err := a.tracker.CreateGroup(ctx, model.OriginScan, root, nil)
	if err != nil {
		return nil, err
	}

	a.scans.Add(1)

	go a.scan(g.ID, root, req, exts)

	return &ScanResult{Group: g}, nil
}

func (a *Admission) scan(groupID, root string, req ScanRequest, exts map[string]bool) {
	defer a.scans.Done()

	log := a.log.With(wlog.String("group_id", groupID), wlog.String("root", root))
	log.Info("scan started", wlog.String("recursive", strconv.FormatBool(req.Recursive)))

	count := 0

	err := walk(a.ctx, root, req.Recursive, exts, func(path string) error {
		class, err := a.classifier.Classify(path)
		if err != nil {
			return nil
		}

		if err = a.admit(a.ctx, newJob(path, class, req.Priority, SourceScan, groupID)); err != nil {
			return err
		}

		count++

		return nil
	})
	if err != nil {
		log.Error(err.Error(), wlog.Err(err))

		if a.ctx.Err() != nil {
			// sealed by reconcile on the next start
			return
		}
	}

	if err = a.tracker.Seal(a.ctx, groupID); err != nil {
		log.Error(err.Error(), wlog.Err(err))

		return
	}

	log.Info("scan finished", wlog.Int("jobs", count))
}

// Cancel stops a job. A queued job is cancelled at once; a running one is
// flagged and its worker writes the cancellation when the operation returns.
func (a *Admission) Cancel(ctx context.Context, id string) (*model.Job, error) {
	for i := 0; i < cancelRetries; i++ {
		j, err := a.jobs.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		switch j.Status {
		case model.StatusQueued:
			code, msg := string(model.OutcomeCancelled), "cancelled while queued"

			upd, err := a.jobs.CompareAndSetStatus(ctx, id, model.StatusQueued, model.StatusCancelled,
				model.JobPatch{ResultCode: &code, ResultMessage: &msg})
			if err != nil {
				if errors.Is(err, model.ErrConflict) {
					continue
				}

				return nil, err
			}

			a.queue.Remove(id)
			a.tracker.OnJobTerminal(ctx, upd.Group(), id, model.StatusQueued, model.StatusCancelled)
			a.log.Info("job cancelled", wlog.String("job_id", id))

			return upd, nil

		case model.StatusRunning:
			if a.pool.RequestCancel(id) {
				a.log.Info("cancellation requested", wlog.String("job_id", id))

				return j, nil
			}

		default:
			return nil, &model.TransitionError{JobID: id, Expected: j.Status, Next: model.StatusCancelled,
				Err: model.ErrInvalidTransition}
		}
	}

	return nil, errors.Wrapf(model.ErrConflict, "job %s changed while cancelling", id)
}

// CancelGroup cancels every unfinished member and reports how many were
// cancelled or flagged.
func (a *Admission) CancelGroup(ctx context.Context, groupID string) (int, error) {
	if _, err := a.tracker.Group(ctx, groupID); err != nil {
		return 0, err
	}

	n := 0

	for {
		jobs, err := a.jobs.List(ctx, model.JobFilter{GroupID: groupID, Status: model.StatusQueued, Limit: cancelPageSize})
		if err != nil {
			return n, err
		}

		progressed := false

		for _, j := range jobs {
			if _, err = a.Cancel(ctx, j.ID); err != nil {
				if errors.Is(err, model.ErrStoreUnavailable) {
					return n, err
				}

				continue
			}

			n++
			progressed = true
		}

		if len(jobs) < cancelPageSize || !progressed {
			break
		}
	}

	running, err := a.jobs.List(ctx, model.JobFilter{GroupID: groupID, Status: model.StatusRunning, Limit: cancelPageSize})
	if err != nil {
		return n, err
	}

	for _, j := range running {
		if a.pool.RequestCancel(j.ID) {
			n++
		}
	}

	a.log.Info("group cancelled", wlog.String("group_id", groupID), wlog.Int("jobs", n))

	return n, nil
}
