package model

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

var Statuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusSkipped,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled},
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}

	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal edge for a regular
// status update. running -> queued is reserved for crash recovery and is not
// accepted here.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityNormal
	PriorityLow
)

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "urgent", "high":
		return PriorityUrgent, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: priority %q", ErrInvalidArgument, s)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}

	*p = v

	return nil
}

func (p Priority) Value() (driver.Value, error) {
	return int64(p), nil
}

func (p *Priority) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*p = Priority(v)
	case int32:
		*p = Priority(v)
	case []byte:
		i, err := strconv.Atoi(string(v))
		if err != nil {
			return err
		}
		*p = Priority(i)
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = Priority(i)
	default:
		return fmt.Errorf("unsupported priority type %T", src)
	}

	return nil
}

type ResourceClass string

const (
	ClassLight ResourceClass = "light"
	ClassHeavy ResourceClass = "heavy"
)

type Job struct {
	ID            string        `json:"id" db:"id"`
	Path          string        `json:"path" db:"path"`
	Class         ResourceClass `json:"class" db:"class"`
	Priority      Priority      `json:"priority" db:"priority"`
	Status        Status        `json:"status" db:"status"`
	Source        string        `json:"source" db:"source"`
	GroupID       *string       `json:"group_id,omitempty" db:"group_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	EnqueuedAt    time.Time     `json:"enqueued_at" db:"enqueued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
	ResultCode    string        `json:"result_code,omitempty" db:"result_code"`
	ResultMessage string        `json:"result_message,omitempty" db:"result_message"`
	Attempts      int           `json:"attempts" db:"attempts"`
	LastError     string        `json:"last_error,omitempty" db:"last_error"`
}

func (j *Job) Group() string {
	if j.GroupID == nil {
		return ""
	}

	return *j.GroupID
}

func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}

	return j.CompletedAt.Sub(*j.StartedAt)
}

// JobPatch carries the fields written together with a status change.
type JobPatch struct {
	StartedAt     *time.Time
	ResultCode    *string
	ResultMessage *string
	LastError     *string
	AddAttempts   int
}

type JobFilter struct {
	Status  Status        `form:"status" validate:"omitempty,oneof=queued running succeeded failed skipped cancelled"`
	GroupID string        `form:"group" validate:"omitempty,max=64"`
	Class   ResourceClass `form:"class" validate:"omitempty,max=32"`
	Limit   int           `form:"limit" validate:"gte=0,lte=1000"`
	Offset  int           `form:"offset" validate:"gte=0"`
}
