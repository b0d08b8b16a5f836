// Package errors consolidates error definitions for the lakeship pipeline.
//
// It provides:
// - Sentinel errors for every stage failure class
// - Retriability checks used by the run coordinator
// - StageError, the aggregated per-stage failure surfaced on a Failed run
// - Error wrapping utilities
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Stage failure classes. Every error a stage returns wraps exactly one
	// of these, so the coordinator and callers can classify failures with
	// errors.Is.
	ErrExtraction            = errors.New("extraction failed")
	ErrConversion            = errors.New("conversion failed")
	ErrUpload                = errors.New("upload failed")
	ErrMissingUpstreamResult = errors.New("missing upstream result")

	// Coordination errors
	ErrRunInFlight = errors.New("a run is already in flight")

	// Artifact errors
	ErrStagingMissing = errors.New("staging artifact missing")

	// Configuration errors
	ErrBucketNotConfigured = errors.New("destination bucket not configured")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrMissingField        = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsStageFailure returns true if err belongs to one of the stage failure
// classes.
func IsStageFailure(err error) bool {
	return errors.Is(err, ErrExtraction) ||
		errors.Is(err, ErrConversion) ||
		errors.Is(err, ErrUpload) ||
		errors.Is(err, ErrMissingUpstreamResult)
}

// IsRetriable returns true if the error is potentially retriable.
//
// Wiring defects, configuration errors and cancellation are final: retrying
// the same stage cannot succeed, so the coordinator fails the run
// immediately instead of burning the retry budget.
func IsRetriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrMissingUpstreamResult),
		errors.Is(err, ErrBucketNotConfigured),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingField),
		errors.Is(err, ErrRunInFlight),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// ============================================================================
// StageError
// ============================================================================

// StageError is the aggregated error recorded when a run transitions to
// Failed. It names the stage that failed and how many attempts were made.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Stage wraps err into the given stage failure class. Both the class and
// the cause remain visible to errors.Is / errors.As.
func Stage(class, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", class, err)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}
