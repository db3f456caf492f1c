package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned when a share references a calculator that is not registered.
	ErrUnknownTool = errors.New("calculator does not exist")
	// ErrEmptyResult is returned when a share is requested before anything was calculated.
	ErrEmptyResult = errors.New("result is required")
	// ErrFeedbackNotFound is returned when a feedback entry cannot be located.
	ErrFeedbackNotFound = errors.New("feedback not found")
	// ErrInvalidFeedback marks a submission that failed validation.
	ErrInvalidFeedback = errors.New("invalid feedback")
	// ErrDuplicateIdempotencyKey is returned by repositories when another submission
	// already claimed the idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// ValidationError describes the offending field of a rejected submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is lets callers match any validation failure with ErrInvalidFeedback.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidFeedback
}
