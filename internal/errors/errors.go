// Package errors provides centralized error definitions for planrunner.
//
// It defines the sentinel errors shared by the store, resolver, planner and
// executor packages, semantic error types that carry structured context, and
// a few classification helpers.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewNotFoundError("plan", "p-123")
//	err := errors.NewValidationError("task id is empty").WithField("tasks[2].id")
//	err := errors.NewUnschedulableError([]string{"task-x", "task-y"})
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
//	var unsched *errors.UnschedulableError
//	if errors.As(err, &unsched) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates that a plan, instance, task or shared value does not exist.
	ErrNotFound = New("not found")
	// ErrCorrupted indicates a stored artifact could not be decoded.
	ErrCorrupted = New("stored data corrupted")
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = New("invalid status transition")
	// ErrUnschedulable indicates the dependency graph has a cycle or a dangling reference.
	ErrUnschedulable = New("unschedulable task graph")
	// ErrTaskTimeout indicates a task exceeded its deadline.
	ErrTaskTimeout = New("task timed out")
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = New("invalid input")
	// ErrConflict indicates a save would overwrite a status another writer already made terminal.
	ErrConflict = New("conflicting instance update")
)

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("instance", "a1b2")
//	fmt.Println(err) // "instance 'a1b2' not found"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return e.cause }

// Is makes every NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return target == ErrNotFound
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("plan has no tasks").WithField("tasks")
type ValidationError struct {
	Field   string
	Value   any
	message string
	cause   error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{message: message}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Message returns the bare message without field/value decoration.
func (e *ValidationError) Message() string { return e.message }

func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// Is makes every ValidationError match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// TimeoutError represents an operation that exceeded its deadline.
//
// Example:
//
//	err := errors.NewTimeoutError("task build", 30*time.Second)
//	fmt.Println(err) // "timeout error: task build (timeout: 30s)"
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is makes every TimeoutError match ErrTaskTimeout.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTaskTimeout
}

// UnschedulableError reports tasks that can never be placed in an execution
// group because of a dependency cycle or a reference to a missing task.
type UnschedulableError struct {
	// TaskIDs lists the tasks left unassigned, in collection order.
	TaskIDs []string
	// Missing maps a task id to the dependency ids that do not exist.
	Missing map[string][]string
}

// NewUnschedulableError creates an UnschedulableError for the given tasks.
func NewUnschedulableError(taskIDs []string) *UnschedulableError {
	return &UnschedulableError{TaskIDs: taskIDs}
}

func (e *UnschedulableError) Error() string {
	msg := fmt.Sprintf("unschedulable task graph: %d task(s) cannot be ordered [%s]",
		len(e.TaskIDs), strings.Join(e.TaskIDs, ", "))
	if len(e.Missing) > 0 {
		var refs []string
		for _, id := range e.TaskIDs {
			if deps, ok := e.Missing[id]; ok {
				refs = append(refs, fmt.Sprintf("%s->%s", id, strings.Join(deps, "|")))
			}
		}
		msg += fmt.Sprintf("; dangling needs: %s", strings.Join(refs, ", "))
	}
	return msg
}

// Is makes every UnschedulableError match ErrUnschedulable.
func (e *UnschedulableError) Is(target error) bool {
	if _, ok := target.(*UnschedulableError); ok {
		return true
	}
	return target == ErrUnschedulable
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsUserFacing returns true if the error message is safe to display to end users.
// Semantic errors are user facing; everything else is treated as internal.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var notFound *NotFoundError
	var validation *ValidationError
	var timeout *TimeoutError
	var unsched *UnschedulableError

	return As(err, &notFound) || As(err, &validation) ||
		As(err, &timeout) || As(err, &unsched)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "save instance")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "load plan %s", planID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
