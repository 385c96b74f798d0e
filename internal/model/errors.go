package model

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("status conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrResourceRefused   = errors.New("resource class saturated")
	ErrOperationFault    = errors.New("operation fault")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrInvalidArgument   = errors.New("invalid argument")
	// ErrCounterDrift means group counters no longer match the member jobs.
	ErrCounterDrift = errors.New("group counters drifted")
)

// TransitionError describes a refused status change. It unwraps to
// ErrConflict or ErrInvalidTransition.
type TransitionError struct {
	JobID    string
	Expected Status
	Actual   Status
	Next     Status
	Err      error
}

func (e *TransitionError) Error() string {
	if e.Actual != "" && e.Actual != e.Expected {
		return e.Err.Error() + ": job " + e.JobID + " is " + string(e.Actual) +
			", expected " + string(e.Expected) + " -> " + string(e.Next)
	}

	return e.Err.Error() + ": job " + e.JobID + " " + string(e.Expected) + " -> " + string(e.Next)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
