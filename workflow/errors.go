package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrSubmissionInFlight = errors.New("acceptance is being submitted")
	ErrWorkflowComplete   = errors.New("acceptance is already complete")
	ErrWorkflowCancelled  = errors.New("acceptance was cancelled")
)

// ValidationError blocks the current step. It never leaves the workflow in a changed state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DiscrepancyStateError reports a request that refers to a line or decision
// the workflow does not know about. The request is ignored.
type DiscrepancyStateError struct {
	LineId  int
	Message string
}

func (e *DiscrepancyStateError) Error() string {
	return fmt.Sprintf("line %d: %s", e.LineId, e.Message)
}

// SubmissionError carries the acceptance store's failure message unchanged.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func newSubmissionError(err error) *SubmissionError {
	return &SubmissionError{Message: err.Error(), Err: err}
}
