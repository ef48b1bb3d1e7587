package infer

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineFailure marks a task whose inference call failed.
	ErrEngineFailure = errors.New("engine failure")

	// ErrTimeout marks a task that did not settle before its deadline.
	ErrTimeout = errors.New("inference timed out")

	// ErrInvalidBatch is returned by Submit when a batch fails validation.
	// No task is started for an invalid batch.
	ErrInvalidBatch = errors.New("invalid batch")
)

// TaskError is the error reported for a failed or timed-out task.
// errors.Is matches both Kind and the underlying cause.
type TaskError struct {
	Index int
	Kind  error
	Err   error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("task %d: %v", e.Index, e.Kind)
	}
	return fmt.Sprintf("task %d: %v: %v", e.Index, e.Kind, e.Err)
}

// Unwrap returns the error kind and the underlying cause.
func (e *TaskError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newTaskError(index int, kind, err error) error {
	return &TaskError{Index: index, Kind: kind, Err: err}
}

// IsTimeout reports whether err marks a timed-out task.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsEngineFailure reports whether err marks a task the engine failed.
func IsEngineFailure(err error) bool {
	return errors.Is(err, ErrEngineFailure)
}

// TaskIndex returns the batch index carried by a TaskError.
func TaskIndex(err error) (int, bool) {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Index, true
	}
	return 0, false
}

func invalidBatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidBatch, fmt.Sprintf(format, args...))
}
