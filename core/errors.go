package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is(). These cover the
// cross-cutting failure kinds that every layer (planner, optimizer, graph
// builder, executor, bridge) needs to distinguish.
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotInitialized = errors.New("not initialized")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrContextCanceled    = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Transport errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
)

// TaskGraphError carries operation, kind, and id context alongside a
// wrapped cause, the way a one-line error string never can in logs.
type TaskGraphError struct {
	Op      string // operation that failed, e.g. "planner.Generate"
	Kind    string // stable machine-readable error kind, e.g. "PlanningFailed"
	ID      string // optional id of the entity involved (step id, session id)
	Message string // human-readable message
	Err     error  // wrapped cause
}

func (e *TaskGraphError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *TaskGraphError) Unwrap() error {
	return e.Err
}

// NewTaskGraphError wraps err with operation/kind context.
func NewTaskGraphError(op, kind string, err error) *TaskGraphError {
	return &TaskGraphError{Op: op, Kind: kind, Err: err}
}

// Kind returns the Kind of a wrapped TaskGraphError, or "" if err isn't one.
// Handlers use this to pick an HTTP status / SSE error code without a type
// switch at every call site.
func Kind(err error) string {
	var tgErr *TaskGraphError
	if errors.As(err, &tgErr) {
		return tgErr.Kind
	}
	return ""
}

// IsConfigurationError reports whether err represents a configuration
// problem (missing API key, invalid env value, ...).
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrMissingConfiguration)
}

// IsStateError reports whether err represents an invalid state transition.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) || errors.Is(err, ErrNotInitialized)
}
