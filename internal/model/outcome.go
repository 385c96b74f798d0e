package model

type OutcomeCode string

const (
	OutcomeChanged   OutcomeCode = "changed"
	OutcomeUnchanged OutcomeCode = "unchanged"
	OutcomeSkipped   OutcomeCode = "skipped"
	OutcomeFailed    OutcomeCode = "failed"

	// result codes written by the pool itself
	OutcomeFault     OutcomeCode = "fault"
	OutcomeCancelled OutcomeCode = "cancelled"
)

// Outcome is what the per-file operation reports for a job.
type Outcome struct {
	Code    OutcomeCode `json:"code"`
	Message string      `json:"message,omitempty"`
}

// Status maps a reported outcome to the terminal job status. An unchanged
// file is a success: the operation is idempotent.
func (o Outcome) Status() Status {
	switch o.Code {
	case OutcomeChanged, OutcomeUnchanged:
		return StatusSucceeded
	case OutcomeSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

type ClassStats struct {
	Admitted int `json:"admitted"`
	Capacity int `json:"capacity"`
}

type QueueStats struct {
	Queued      int                          `json:"queued"`
	Running     int                          `json:"running"`
	Succeeded   int                          `json:"succeeded"`
	Failed      int                          `json:"failed"`
	Skipped     int                          `json:"skipped"`
	Cancelled   int                          `json:"cancelled"`
	Pending     int                          `json:"pending"`
	Classes     map[ResourceClass]ClassStats `json:"classes"`
	WorkersBusy int                          `json:"workers_busy"`
	Workers     int                          `json:"workers"`
	Degraded    bool                         `json:"degraded"`
	Error       string                       `json:"error,omitempty"`
}
