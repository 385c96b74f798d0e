package gate

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/internal/model"
)

type class struct {
	name     model.ResourceClass
	capacity int64
	sem      *semaphore.Weighted
	inUse    *atomic.Int64
}

// Token is one admission of a class. Releasing it twice is a no-op.
type Token struct {
	Class    model.ResourceClass
	released *atomic.Bool
}

// Gate bounds how many jobs of each resource class run at once. Ceilings are
// fixed at construction.
type Gate struct {
	classes map[model.ResourceClass]*class
	order   []model.ResourceClass
	log     *wlog.Logger
}

func New(log *wlog.Logger, capacity map[model.ResourceClass]int) *Gate {
	g := &Gate{
		classes: make(map[model.ResourceClass]*class, len(capacity)),
		log:     log.With(wlog.String("scope", "gate")),
	}

	for name, c := range capacity {
		if c < 1 {
			c = 1
		}

		g.classes[name] = &class{
			name:     name,
			capacity: int64(c),
			sem:      semaphore.NewWeighted(int64(c)),
			inUse:    atomic.NewInt64(0),
		}
		g.order = append(g.order, name)
	}

	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })

	return g
}

func (g *Gate) class(name model.ResourceClass) (*class, error) {
	c, ok := g.classes[name]
	if !ok {
		return nil, errors.Wrapf(model.ErrInvalidArgument, "unknown resource class %q", name)
	}

	return c, nil
}

func (g *Gate) token(c *class) *Token {
	c.inUse.Inc()

	return &Token{Class: c.name, released: atomic.NewBool(false)}
}

// TryAcquire admits immediately or refuses with ErrResourceRefused.
func (g *Gate) TryAcquire(name model.ResourceClass) (*Token, error) {
	c, err := g.class(name)
	if err != nil {
		return nil, err
	}

	if !c.sem.TryAcquire(1) {
		return nil, errors.Wrapf(model.ErrResourceRefused, "class %s", name)
	}

	return g.token(c), nil
}

// Acquire waits at most wait for a free slot. Timeout yields
// ErrResourceRefused; cancellation of ctx yields ctx.Err().
func (g *Gate) Acquire(ctx context.Context, name model.ResourceClass, wait time.Duration) (*Token, error) {
	c, err := g.class(name)
	if err != nil {
		return nil, err
	}

	if c.sem.TryAcquire(1) {
		return g.token(c), nil
	}

	if wait <= 0 {
		return nil, errors.Wrapf(model.ErrResourceRefused, "class %s", name)
	}

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err = c.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, errors.Wrapf(model.ErrResourceRefused, "class %s: waited %s", name, wait)
	}

	return g.token(c), nil
}

func (g *Gate) Release(t *Token) {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}

	c, ok := g.classes[t.Class]
	if !ok {
		return
	}

	c.inUse.Dec()
	c.sem.Release(1)
}

// Admitted lists classes with at least one free slot, in stable order.
func (g *Gate) Admitted() []model.ResourceClass {
	res := make([]model.ResourceClass, 0, len(g.order))

	for _, name := range g.order {
		c := g.classes[name]
		if c.inUse.Load() < c.capacity {
			res = append(res, name)
		}
	}

	return res
}

func (g *Gate) Classes() []model.ResourceClass {
	return append([]model.ResourceClass(nil), g.order...)
}

func (g *Gate) Stats() map[model.ResourceClass]model.ClassStats {
	res := make(map[model.ResourceClass]model.ClassStats, len(g.classes))

	for name, c := range g.classes {
		res[name] = model.ClassStats{
			Admitted: int(c.inUse.Load()),
			Capacity: int(c.capacity),
		}
	}

	return res
}
