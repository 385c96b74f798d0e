package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/config"
	"github.com/webitel/media_jobs/internal/gate"
	"github.com/webitel/media_jobs/internal/model"
	"github.com/webitel/media_jobs/internal/queue"
)

const (
	defaultWorkers    = 2
	defaultTimeout    = 300 * time.Second
	defaultGateWait   = 2 * time.Second
	defaultPoll       = time.Second
	defaultBackoffMax = 10 * time.Second

	finishAttempts = 5
	retryMin       = 50 * time.Millisecond
)

type JobStore interface {
	Put(ctx context.Context, j *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.Job, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next model.Status, patch model.JobPatch) (*model.Job, error)
	UpdateRunning(ctx context.Context, id string, patch model.JobPatch) error
	ListNonTerminal(ctx context.Context) ([]*model.Job, error)
	Recover(ctx context.Context) ([]*model.Job, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	Ping(ctx context.Context) error
}

// Operation processes one file. It must be idempotent: a job may run again
// after a crash. A returned error is a fault and may be retried.
type Operation interface {
	Run(ctx context.Context, j *model.Job) (model.Outcome, error)
}

type PoolSettings struct {
	Workers    int
	MaxRetry   int
	Timeout    time.Duration
	GateWait   time.Duration
	Poll       time.Duration
	BackoffMax time.Duration
}

func PoolSettingsFromConfig(cfg *config.Config) PoolSettings {
	return PoolSettings{
		Workers:    cfg.Workers.Count,
		MaxRetry:   cfg.Workers.MaxRetry,
		Timeout:    cfg.Workers.Timeout,
		GateWait:   cfg.Workers.GateWait,
		Poll:       cfg.Workers.Poll,
		BackoffMax: cfg.Workers.BackoffMax,
	}
}

func (s *PoolSettings) normalize() {
	if s.Workers < 1 {
		s.Workers = defaultWorkers
	}

	if s.MaxRetry < 0 {
		s.MaxRetry = 0
	}

	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}

	if s.GateWait < 0 {
		s.GateWait = defaultGateWait
	}

	if s.Poll <= 0 {
		s.Poll = defaultPoll
	}

	if s.BackoffMax <= 0 {
		s.BackoffMax = defaultBackoffMax
	}
}

type passResult int

const (
	passDone passResult = iota
	passRefused
	passStoreDown
)

// Pool runs a fixed set of workers over the queue. Each worker claims a job
// through the store, holds one gate token for the duration of the operation
// and writes the terminal status itself.
type Pool struct {
	settings PoolSettings
	jobs     JobStore
	queue    *queue.Queue
	gate     *gate.Gate
	tracker  *Tracker
	op       Operation
	log      *wlog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]*atomic.Bool

	busy     *atomic.Int32
	degraded *atomic.Bool
	lastErr  *atomic.String
	started  *atomic.Bool
}

func NewPool(log *wlog.Logger, s PoolSettings, jobs JobStore, q *queue.Queue, g *gate.Gate, tr *Tracker, op Operation) *Pool {
	s.normalize()

	return &Pool{
		settings: s,
		jobs:     jobs,
		queue:    q,
		gate:     g,
		tracker:  tr,
		op:       op,
		log:      log.With(wlog.String("scope", "pool")),
		cancels:  make(map[string]*atomic.Bool),
		busy:     atomic.NewInt32(0),
		degraded: atomic.NewBool(false),
		lastErr:  atomic.NewString(""),
		started:  atomic.NewBool(false),
	}
}

// Start recovers interrupted work, rebuilds the queue from the store and
// launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	recovered, err := p.jobs.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}

	if err = p.tracker.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile groups: %w", err)
	}

	active, err := p.jobs.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("rebuild queue: %w", err)
	}

	for _, j := range active {
		if j.Status == model.StatusQueued {
			p.queue.Push(queue.FromJob(j))
		}
	}

	p.log.Info("queue rebuilt", wlog.Int("recovered", len(recovered)), wlog.Int("queued", p.queue.Len()),
		wlog.Int("workers", p.settings.Workers))

	for i := 0; i < p.settings.Workers; i++ {
		p.wg.Add(1)

		go p.worker(i)
	}

	return nil
}

// Stop stops taking new jobs and waits for operations in flight to finish.
func (p *Pool) Stop() {
	if !p.started.Load() || p.cancel == nil {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.log.Debug("pool stopped")
}

func (p *Pool) Workers() int {
	return p.settings.Workers
}

func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Degraded reports whether the last store access failed and why.
func (p *Pool) Degraded() (bool, string) {
	return p.degraded.Load(), p.lastErr.Load()
}

// Health is nil while the store answers.
func (p *Pool) Health(ctx context.Context) error {
	return p.jobs.Ping(ctx)
}

// RequestCancel flags a job held by a worker. The flag is checked before
// the operation starts and after it returns; a running operation is never
// interrupted.
func (p *Pool) RequestCancel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.cancels[id]
	if ok {
		f.Store(true)
	}

	return ok
}

func (p *Pool) track(id string) *atomic.Bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := atomic.NewBool(false)
	p.cancels[id] = f

	return f
}

func (p *Pool) untrack(id string) {
	p.mu.Lock()
	delete(p.cancels, id)
	p.mu.Unlock()
}

func (p *Pool) storeFailed(err error) bool {
	if !errors.Is(err, model.ErrStoreUnavailable) {
		return false
	}

	if !p.degraded.Swap(true) {
		p.log.Error("store unavailable, workers paused", wlog.Err(err))
	}

	p.lastErr.Store(err.Error())

	return true
}

func (p *Pool) storeBack() bool {
	if err := p.jobs.Ping(p.ctx); err != nil {
		p.lastErr.Store(err.Error())

		return false
	}

	if p.degraded.Swap(false) {
		p.lastErr.Store("")
		p.log.Info("store available, workers resumed")
	}

	return true
}

func (p *Pool) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Pool) idle() bool {
	t := time.NewTimer(p.settings.Poll)
	defer t.Stop()

	select {
	case <-p.ctx.Done():
		return false
	case <-p.queue.Ready():
		return true
	case <-t.C:
		return true
	}
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()

	log := p.log.With(wlog.Int("worker", n))
	log.Debug("listening for jobs")

	defer log.Debug("worker closed")

	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    p.settings.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for p.ctx.Err() == nil {
		if p.degraded.Load() && !p.storeBack() {
			if !p.sleep(b.Duration()) {
				return
			}

			continue
		}

		it, ok := p.queue.Pop(p.gate.Admitted())
		if !ok {
			if !p.idle() {
				return
			}

			continue
		}

		if p.queue.Len() > 0 {
			p.queue.Notify()
		}

		if res := p.dispatch(it); res != passDone {
			if !p.sleep(b.Duration()) {
				return
			}

			continue
		}

		b.Reset()
	}
}

// dispatch reserves a gate token, claims the job and runs it. The token is
// taken before the claim so a refused job is still queued in the store.
func (p *Pool) dispatch(it queue.Item) passResult {
	tok, err := p.gate.Acquire(p.ctx, it.Class, p.settings.GateWait)
	if err != nil {
		p.queue.Push(it)

		if !errors.Is(err, model.ErrResourceRefused) {
			return passDone
		}

		p.log.Debug("class saturated", wlog.String("job_id", it.ID), wlog.String("class", string(it.Class)))

		return passRefused
	}

	defer func() {
		p.gate.Release(tok)
		p.queue.Notify()
	}()

	flag := p.track(it.ID)
	defer p.untrack(it.ID)

	now := model.Now()

	j, err := p.jobs.CompareAndSetStatus(p.ctx, it.ID, model.StatusQueued, model.StatusRunning,
		model.JobPatch{StartedAt: &now})
	if err != nil {
		if p.storeFailed(err) {
			p.queue.Push(it)

			return passStoreDown
		}

		// cancelled or claimed elsewhere
		p.log.Debug(err.Error(), wlog.String("job_id", it.ID))

		return passDone
	}

	p.busy.Inc()
	defer p.busy.Dec()

	p.tracker.OnTransition(p.ctx, j.Group(), j.ID, model.StatusQueued, model.StatusRunning)
	p.execute(j, flag)

	return passDone
}

// execute drives a claimed job to a terminal status. Faults are retried in
// place while the job stays running, with a backoff pause between attempts.
func (p *Pool) execute(j *model.Job, cancelled *atomic.Bool) {
	ctx := context.WithoutCancel(p.ctx)

	retry := &backoff.Backoff{
		Min:    retryMin,
		Max:    p.settings.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		log := p.log.With(wlog.String("job_id", j.ID), wlog.String("class", string(j.Class)),
			wlog.Int("attempt", j.Attempts))

		if cancelled.Load() {
			p.finish(ctx, log, j, model.StatusCancelled, string(model.OutcomeCancelled), "cancelled before start", "")

			return
		}

		log.Debug("execute", wlog.String("path", j.Path))

		start := time.Now()
		out, err := p.invoke(ctx, j)

		if cancelled.Load() {
			msg := "cancelled while running"
			if err != nil {
				msg += ": " + err.Error()
			} else {
				msg += fmt.Sprintf(": operation reported %s", out.Code)
				if out.Message != "" {
					msg += ": " + out.Message
				}
			}

			p.finish(ctx, log, j, model.StatusCancelled, string(model.OutcomeCancelled), msg, "")

			return
		}

		if err == nil {
			log.Info("job done", wlog.String("outcome", string(out.Code)),
				wlog.Duration("duration", time.Since(start)))
			p.finish(ctx, log, j, out.Status(), string(out.Code), out.Message, "")

			return
		}

		log.Error(err.Error(), wlog.Err(err))

		if j.Attempts >= p.settings.MaxRetry {
			log.Error("max attempts reached")
			p.finish(ctx, log, j, model.StatusFailed, string(model.OutcomeFault), err.Error(), err.Error())

			return
		}

		lastErr := err.Error()
		if err = p.jobs.UpdateRunning(ctx, j.ID, model.JobPatch{LastError: &lastErr, AddAttempts: 1}); err != nil {
			p.storeFailed(err)
			log.Error(err.Error(), wlog.Err(err))
		}

		j.Attempts++
		j.LastError = lastErr

		if !p.sleep(retry.Duration()) {
			// still running in the store; recovery requeues it on the next start
			log.Warn("retry interrupted by shutdown")

			return
		}
	}
}

func (p *Pool) invoke(ctx context.Context, j *model.Job) (out model.Outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.settings.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(model.ErrOperationFault, "panic: %v", r)
		}
	}()

	out, err = p.op.Run(ctx, j)
	if err != nil {
		if !errors.Is(err, model.ErrOperationFault) {
			err = fmt.Errorf("%w: %w", model.ErrOperationFault, err)
		}

		return out, err
	}

	switch out.Code {
	case model.OutcomeChanged, model.OutcomeUnchanged, model.OutcomeSkipped, model.OutcomeFailed:
		return out, nil
	default:
		return out, errors.Wrapf(model.ErrOperationFault, "unknown outcome %q", out.Code)
	}
}

// finish writes the terminal status. A store outage is retried a few times;
// if the write is lost the job stays running and is requeued by recovery.
func (p *Pool) finish(ctx context.Context, log *wlog.Logger, j *model.Job, next model.Status, code, msg, lastErr string) {
	patch := model.JobPatch{ResultCode: &code, ResultMessage: &msg}
	if lastErr != "" {
		patch.LastError = &lastErr
	}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: p.settings.BackoffMax, Factor: 2}

	for i := 0; i < finishAttempts; i++ {
		_, err := p.jobs.CompareAndSetStatus(ctx, j.ID, model.StatusRunning, next, patch)
		if err == nil {
			log.Debug("status", wlog.String("from", string(model.StatusRunning)), wlog.String("to", string(next)))
			p.tracker.OnJobTerminal(ctx, j.Group(), j.ID, model.StatusRunning, next)

			return
		}

		if !p.storeFailed(err) {
			log.Error(err.Error(), wlog.Err(err), wlog.String("from", string(model.StatusRunning)),
				wlog.String("to", string(next)))

			return
		}

		time.Sleep(b.Duration())
	}

	log.Error("terminal status not written, job left running", wlog.String("to", string(next)))
}
