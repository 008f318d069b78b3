// Error taxonomy shared by all engine services
package service

import (
	"errors"
	"fmt"
)

// NotFoundError reports an unknown conversation, thread or message id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError reports a request that can never succeed as written:
// a missing required field, an invalid enum value, or an impossible status
// transition. It carries field-level detail and is never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Detail)
}

// ConflictError reports an operation rejected by the conversation's current
// state, such as appending to an archived conversation. Safe to retry after
// the state changes.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return e.Detail
}

// ComputeError reports malformed input to a summarization or analytics
// computation. Valid stores never produce it: empty input is a defined
// case, not an error.
type ComputeError struct {
	Stage string
	Err   error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute %s: %v", e.Stage, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}
