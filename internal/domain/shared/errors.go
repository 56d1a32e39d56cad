// Package shared contains common domain types, errors, and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid experiment configuration")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")

	// Data-quality errors (caught before analysis proceeds)
	ErrDuplicateObservation      = errors.New("duplicate observation")
	ErrInsufficientExpectedCount = errors.New("insufficient expected cell count")

	// Lifecycle errors
	ErrExperimentAlreadyFinalized = errors.New("experiment already finalized")
	ErrInvalidState               = errors.New("invalid state")
	ErrStateTransition            = errors.New("invalid state transition")

	// Numerical edge cases: the computation itself could not produce a
	// meaningful answer (zero variance, zero counts). Distinct from "no
	// effect detected".
	ErrIndeterminate = errors.New("result indeterminate")

	// Infrastructure errors
	ErrExternalService = errors.New("external service error")
	ErrTimeout         = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "assignment", "power", "analysis"
	Op      string // Operation that failed, e.g., "Assign", "CheckSRM"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// IsInvalidConfiguration checks if the error is a configuration error.
func IsInvalidConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsInvalidInput checks if the error is an out-of-domain parameter error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsDataQuality checks if the error is a data-quality violation.
func IsDataQuality(err error) bool {
	return errors.Is(err, ErrDuplicateObservation) ||
		errors.Is(err, ErrInsufficientExpectedCount)
}

// IsIndeterminate checks if the error marks a numerically indeterminate result.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrIndeterminate)
}

// IsRetryable checks if the operation can be retried against infrastructure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalService) || errors.Is(err, ErrTimeout)
}
