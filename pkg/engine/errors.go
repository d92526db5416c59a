package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: a store that is briefly locked, a generator timeout.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates a state conflict such as an illegal status transition.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: unknown tree or task, invalid blueprint.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with tree and task context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// TreeID is the tree the error relates to, if applicable.
	TreeID string `json:"tree_id,omitempty"`

	// TaskID is the task the error relates to, if applicable.
	TaskID string `json:"task_id,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.TreeID != "" && e.TaskID != "":
		msg = fmt.Sprintf("%s (tree=%s, task=%s)", msg, e.TreeID, e.TaskID)
	case e.TreeID != "":
		msg = fmt.Sprintf("%s (tree=%s)", msg, e.TreeID)
	case e.TaskID != "":
		msg = fmt.Sprintf("%s (task=%s)", msg, e.TaskID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when class and code agree.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a permanent NOT_FOUND error for a missing tree or task.
func NewNotFoundError(kind, id string) *EngineError {
	return NewPermanentError(fmt.Sprintf("%s not found: %s", kind, id), nil).
		WithCode(ErrCodeNotFound)
}

// WithTree adds tree context to an error.
func (e *EngineError) WithTree(treeID string) *EngineError {
	e.TreeID = treeID
	return e
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(taskID string) *EngineError {
	e.TaskID = taskID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// HasCode reports whether any engine error in the chain carries code.
func HasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeIllegalTransition = "ILLEGAL_TRANSITION"
	ErrCodePersistence       = "PERSISTENCE_FAILED"
	ErrCodeGeneration        = "GENERATION_FAILED"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
