package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/media_jobs/internal/model"
)

var (
	all = []model.ResourceClass{model.ClassLight, model.ClassHeavy}
	t0  = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func item(id string, c model.ResourceClass, p model.Priority, at time.Time) Item {
	return Item{ID: id, Class: c, Priority: p, EnqueuedAt: at}
}

func drain(q *Queue, admitted []model.ResourceClass) []string {
	var ids []string

	for {
		it, ok := q.Pop(admitted)
		if !ok {
			return ids
		}

		ids = append(ids, it.ID)
	}
}

func TestQueue_TierThenFIFO(t *testing.T) {
	// Arrange
	q := New()
	q.Push(item("A", model.ClassLight, model.PriorityNormal, t0))
	q.Push(item("B", model.ClassLight, model.PriorityNormal, t0.Add(time.Second)))
	q.Push(item("C", model.ClassLight, model.PriorityUrgent, t0.Add(2*time.Second)))

	// Act
	first, ok := q.Pop(all)
	require.True(t, ok)
	assert.Equal(t, "C", first.ID)

	// A was enqueued before B within the same tier.
	rest := drain(q, all)

	// Assert
	assert.Equal(t, []string{"A", "B"}, rest)
}

func TestQueue_UrgentBeforeNormalAcrossClasses(t *testing.T) {
	q := New()
	q.Push(item("A", model.ClassHeavy, model.PriorityUrgent, t0))
	q.Push(item("B", model.ClassLight, model.PriorityLow, t0.Add(time.Second)))
	q.Push(item("C", model.ClassLight, model.PriorityNormal, t0.Add(2*time.Second)))

	assert.Equal(t, []string{"A", "C", "B"}, drain(q, all))
}

func TestQueue_SequenceBreaksTies(t *testing.T) {
	q := New()
	for _, id := range []string{"1", "2", "3", "4"} {
		q.Push(item(id, model.ClassLight, model.PriorityNormal, t0))
	}

	assert.Equal(t, []string{"1", "2", "3", "4"}, drain(q, all))
}

func TestQueue_PopSkipsNonAdmitted(t *testing.T) {
	// Arrange
	q := New()
	q.Push(item("heavy", model.ClassHeavy, model.PriorityUrgent, t0))
	q.Push(item("light", model.ClassLight, model.PriorityLow, t0.Add(time.Second)))

	// Act
	it, ok := q.Pop([]model.ResourceClass{model.ClassLight})

	// Assert
	require.True(t, ok)
	assert.Equal(t, "light", it.ID)
	assert.True(t, q.Contains("heavy"))
	assert.Equal(t, 1, q.Len())

	_, ok = q.Pop([]model.ResourceClass{model.ClassLight})
	assert.False(t, ok)

	_, ok = q.Pop(nil)
	assert.False(t, ok)
}

func TestQueue_PushBackKeepsPosition(t *testing.T) {
	q := New()
	q.Push(item("A", model.ClassLight, model.PriorityNormal, t0))
	q.Push(item("B", model.ClassLight, model.PriorityNormal, t0.Add(time.Second)))

	a, ok := q.Pop(all)
	require.True(t, ok)

	// Returned with its original enqueue time it is still ahead of B.
	q.Push(a)

	assert.Equal(t, []string{"A", "B"}, drain(q, all))
}

func TestQueue_Remove(t *testing.T) {
	q := New()
	q.Push(item("A", model.ClassLight, model.PriorityNormal, t0))
	q.Push(item("B", model.ClassLight, model.PriorityNormal, t0.Add(time.Second)))
	q.Push(item("C", model.ClassHeavy, model.PriorityNormal, t0.Add(2*time.Second)))

	assert.True(t, q.Remove("A"))
	assert.False(t, q.Remove("A"))
	assert.False(t, q.Remove("missing"))

	assert.Equal(t, map[model.ResourceClass]int{model.ClassLight: 1, model.ClassHeavy: 1}, q.LenByClass())
	assert.Equal(t, []string{"B", "C"}, drain(q, all))
}

func TestQueue_DuplicatePush(t *testing.T) {
	q := New()

	assert.True(t, q.Push(item("A", model.ClassLight, model.PriorityNormal, t0)))
	assert.False(t, q.Push(item("A", model.ClassLight, model.PriorityUrgent, t0)))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_NotifyCoalesces(t *testing.T) {
	q := New()
	q.Push(item("A", model.ClassLight, model.PriorityNormal, t0))
	q.Push(item("B", model.ClassLight, model.PriorityNormal, t0))

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected a ready signal")
	}

	select {
	case <-q.Ready():
		t.Fatal("signals should coalesce")
	default:
	}
}
