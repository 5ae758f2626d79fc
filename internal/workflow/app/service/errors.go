package service

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound is returned when a workflow does not exist
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrVersionNotFound is returned when a version does not exist
	ErrVersionNotFound = errors.New("version not found")

	// ErrQuotaExceeded is returned when workflow creation is blocked by the
	// owner's plan limit and enforcement is on
	ErrQuotaExceeded = errors.New("workflow quota exceeded")
)

// ValidationError rejects a request before any side effect occurs
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError creates a validation error
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a validation rejection
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RollbackError means the write-back to the remote platform failed. No
// version was recorded; the live remote state is assumed unchanged.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return "rollback failed: " + e.Err.Error()
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// IsRollbackError reports whether err is a failed rollback write
func IsRollbackError(err error) bool {
	var re *RollbackError
	return errors.As(err, &re)
}
