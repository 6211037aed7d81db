package domain

import (
	"errors"
	"fmt"
)

// StageError is the only error shape the orchestrator acts on. Retryable is
// set by the component that raised the error; the orchestrator never guesses
// retryability from error text.
type StageError struct {
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err as a non-retryable failure at the given stage.
func NewStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// NewRetryableError wraps err as a retryable failure at the given stage.
func NewRetryableError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Retryable: true, Err: err}
}

// IsRetryable reports whether err is a StageError marked retryable.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// ErrorStage extracts the stage an error occurred at, if it is a StageError.
func ErrorStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Transient classifies errors surfaced by external API clients. Adapters and
// the sink attach this to responses they know are worth retrying (5xx, rate
// limits, timeouts).
type Transient struct {
	Err error
}

func (e *Transient) Error() string {
	return e.Err.Error()
}

func (e *Transient) Unwrap() error {
	return e.Err
}

// MarkTransient wraps err so IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// IsTransient reports whether err was marked transient by the component that
// raised it.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}
