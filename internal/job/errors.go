package job

import "errors"

// ErrAlreadyRunning is returned by Start and Invoke when the derived job id
// already has a RUNNING ledger row. It is a control signal: callers decide
// whether to skip, wait, or surface it. It is never retried.
var ErrAlreadyRunning = errors.New("job already running")

// ErrCancelled is the cancellation cause installed on a run's context when
// the job is cancelled through the orchestrator.
var ErrCancelled = errors.New("job cancelled")

// ErrJobSettled is returned by Cancel when the job already reached a
// terminal COMPLETED or FAILED state; a settled outcome is never rewritten.
var ErrJobSettled = errors.New("job already settled")

type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable wraps err so that Step fails immediately instead of retrying.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriableError{err: err}
}

// IsNonRetriable reports whether err was marked with NonRetriable or is one
// of the control signals that must never be retried.
func IsNonRetriable(err error) bool {
	var nr *nonRetriableError
	if errors.As(err, &nr) {
		return true
	}
	return errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrCancelled)
}
