package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/config"
	"github.com/webitel/media_jobs/internal/gate"
	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/queue"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 10 * time.Minute
)

type PoolState interface {
	Workers() int
	Busy() int
	Degraded() (bool, string)
}

// Status answers read queries. Terminal jobs never change, so they are
// served from a bounded cache once read.
type Status struct {
	jobs    JobStore
	tracker *Tracker
	queue   *queue.Queue
	gate    *gate.Gate
	pool    PoolState
	cache   *expirable.LRU[string, *model.Job]
	log     *wlog.Logger
}

func NewStatus(cfg *config.Config, log *wlog.Logger, jobs JobStore, tr *Tracker, q *queue.Queue, g *gate.Gate,
	pool PoolState,
) *Status {
	size, ttl := cfg.Workers.CacheSize, cfg.Workers.CacheTTL
	if size <= 0 {
		size = defaultCacheSize
	}

	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Status{
		jobs:    jobs,
		tracker: tr,
		queue:   q,
		gate:    g,
		pool:    pool,
		cache:   expirable.NewLRU[string, *model.Job](size, nil, ttl),
		log:     log.With(wlog.String("scope", "status")),
	}
}

func (s *Status) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if j, ok := s.cache.Get(id); ok {
		return j, nil
	}

	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if j.Status.Terminal() {
		s.cache.Add(id, j)
	}

	return j, nil
}

func (s *Status) ListJobs(ctx context.Context, f model.JobFilter) ([]*model.Job, error) {
	return s.jobs.List(ctx, f)
}

func (s *Status) GetGroup(ctx context.Context, id string) (*model.GroupView, error) {
	return s.tracker.Progress(ctx, id)
}

// QueueStats combines store counts with the live scheduler state. When the
// store cannot answer, counts stay zero and the error is reported instead.
func (s *Status) QueueStats(ctx context.Context) *model.QueueStats {
	st := &model.QueueStats{
		Pending:     s.queue.Len(),
		Classes:     s.gate.Stats(),
		Workers:     s.pool.Workers(),
		WorkersBusy: s.pool.Busy(),
	}

	st.Degraded, st.Error = s.pool.Degraded()

	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		s.log.Error(err.Error(), wlog.Err(err))

		st.Degraded = true
		st.Error = err.Error()

		return st
	}

	st.Queued = counts[model.StatusQueued]
	st.Running = counts[model.StatusRunning]
	st.Succeeded = counts[model.StatusSucceeded]
	st.Failed = counts[model.StatusFailed]
	st.Skipped = counts[model.StatusSkipped]
	st.Cancelled = counts[model.StatusCancelled]

	return st
}
