package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/webitel/media_jobs/internal/model"
)

// Item is what the queue knows about a ready job: its id and ordering keys.
type Item struct {
	ID         string
	Class      model.ResourceClass
	Priority   model.Priority
	EnqueuedAt time.Time

	seq   uint64
	index int
}

func FromJob(j *model.Job) Item {
	return Item{
		ID:         j.ID,
		Class:      j.Class,
		Priority:   j.Priority,
		EnqueuedAt: j.EnqueuedAt,
	}
}

func (i *Item) less(o *Item) bool {
	if i.Priority != o.Priority {
		return i.Priority < o.Priority
	}

	if !i.EnqueuedAt.Equal(o.EnqueuedAt) {
		return i.EnqueuedAt.Before(o.EnqueuedAt)
	}

	return i.seq < o.seq
}

type items []*Item

func (h items) Len() int           { return len(h) }
func (h items) Less(i, j int) bool { return h[i].less(h[j]) }

func (h items) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *items) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *items) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]

	return it
}

// Queue orders ready jobs by priority tier, then enqueue time, then insertion
// sequence. Each class has its own heap so a pop restricted to admitted
// classes only compares class heads and never disturbs the others.
type Queue struct {
	mu      sync.Mutex
	classes map[model.ResourceClass]*items
	byID    map[string]*Item
	seq     uint64
	notify  chan struct{}
}

func New() *Queue {
	return &Queue{
		classes: make(map[model.ResourceClass]*items),
		byID:    make(map[string]*Item),
		notify:  make(chan struct{}, 1),
	}
}

// Push adds an item. An id already present is left in place and false is
// returned.
func (q *Queue) Push(it Item) bool {
	q.mu.Lock()

	if _, ok := q.byID[it.ID]; ok {
		q.mu.Unlock()

		return false
	}

	q.seq++
	it.seq = q.seq

	h, ok := q.classes[it.Class]
	if !ok {
		h = &items{}
		q.classes[it.Class] = h
	}

	p := &it
	heap.Push(h, p)
	q.byID[it.ID] = p
	q.mu.Unlock()

	q.Notify()

	return true
}

// Pop removes and returns the best item among the admitted classes. Items of
// other classes stay queued.
func (q *Queue) Pop(admitted []model.ResourceClass) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *items

	for _, c := range admitted {
		h, ok := q.classes[c]
		if !ok || h.Len() == 0 {
			continue
		}

		if best == nil || (*h)[0].less((*best)[0]) {
			best = h
		}
	}

	if best == nil {
		return Item{}, false
	}

	it := heap.Pop(best).(*Item)
	delete(q.byID, it.ID)

	return *it, true
}

func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return false
	}

	heap.Remove(q.classes[it.Class], it.index)
	delete(q.byID, id)

	return true
}

func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.byID[id]

	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.byID)
}

// LenByClass reports queued items per class.
func (q *Queue) LenByClass() map[model.ResourceClass]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	res := make(map[model.ResourceClass]int, len(q.classes))
	for c, h := range q.classes {
		res[c] = h.Len()
	}

	return res
}

// Notify wakes one idle waiter. Signals coalesce.
func (q *Queue) Notify() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled after pushes and releases.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}
