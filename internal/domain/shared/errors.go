// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	// Collaborator (storage, cache) failures
	ErrDependency = errors.New("dependency failure")

	// Benign duplicate, e.g. an award that already exists
	ErrDuplicate = errors.New("duplicate")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "points", "achievement", "ledger"
	Op      string // Operation that failed, e.g., "SyncPoints", "Evaluate"
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

// NewValidationError reports missing or malformed input.
func NewValidationError(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// NewDependencyFailure wraps a failed collaborator read or write.
// The underlying message is kept so callers can surface it.
func NewDependencyFailure(domain, op, message string, err error) *DomainError {
	return WrapError(domain, op, ErrDependency, message, err)
}

// ErrMissingUserID is returned by every operation that needs a user ID.
var ErrMissingUserID = NewDomainError("user", "Validate", ErrValidation, "user ID is required")

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput)
}

// IsDependencyFailure checks if a collaborator failed.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependency)
}

// IsDuplicate checks if the error signals an already-existing record.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate) || errors.Is(err, ErrAlreadyExists)
}

// IsRetryable reports whether re-invoking the same operation may succeed.
// Only collaborator failures qualify; validation errors never do.
func IsRetryable(err error) bool {
	return IsDependencyFailure(err) && !IsValidation(err)
}
