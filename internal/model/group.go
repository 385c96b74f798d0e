package model

import "time"

type OriginKind string

const (
	OriginEvent OriginKind = "event"
	OriginScan  OriginKind = "scan"
)

type Counters struct {
	Queued    int `json:"queued" db:"queued"`
	Running   int `json:"running" db:"running"`
	Succeeded int `json:"succeeded" db:"succeeded"`
	Failed    int `json:"failed" db:"failed"`
	Skipped   int `json:"skipped" db:"skipped"`
	Cancelled int `json:"cancelled" db:"cancelled"`
}

func (c Counters) Sum() int {
	return c.Queued + c.Running + c.Succeeded + c.Failed + c.Skipped + c.Cancelled
}

func (c Counters) Terminal() int {
	return c.Succeeded + c.Failed + c.Skipped + c.Cancelled
}

func (c *Counters) Add(s Status, n int) {
	switch s {
	case StatusQueued:
		c.Queued += n
	case StatusRunning:
		c.Running += n
	case StatusSucceeded:
		c.Succeeded += n
	case StatusFailed:
		c.Failed += n
	case StatusSkipped:
		c.Skipped += n
	case StatusCancelled:
		c.Cancelled += n
	}
}

type JobGroup struct {
	Counters

	ID          string     `json:"id" db:"id"`
	Origin      OriginKind `json:"origin" db:"origin"`
	OriginRef   string     `json:"origin_ref" db:"origin_ref"`
	Total       *int       `json:"total" db:"total"`
	Sealed      bool       `json:"sealed" db:"sealed"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

type Progress struct {
	Counters

	Attached  int      `json:"attached"`
	Processed int      `json:"processed"`
	Total     *int     `json:"total"`
	Percent   *float64 `json:"percent"`
	Completed bool     `json:"completed"`
}

func (g *JobGroup) Progress() Progress {
	p := Progress{
		Counters:  g.Counters,
		Attached:  g.Sum(),
		Processed: g.Terminal(),
		Completed: g.CompletedAt != nil,
	}

	if g.Total != nil {
		total := *g.Total
		p.Total = &total

		pct := 100.0
		if total > 0 {
			pct = float64(p.Processed) * 100 / float64(total)
		}
		p.Percent = &pct
	}

	return p
}

type GroupView struct {
	*JobGroup
	Progress Progress `json:"progress"`
}
