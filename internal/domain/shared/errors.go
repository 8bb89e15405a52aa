// Package shared contains common domain types, errors, events, and value objects
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
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrInvalidFormat = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrStale           = errors.New("stale update")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// Storage errors
	ErrDatabase = errors.New("database error")
	ErrConflict = errors.New("conflict")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "notification", "template", "ticket"
	Op      string // Operation that failed, e.g., "Send", "Render"
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

// Notification domain errors
var (
	ErrNotificationNotFound = NewDomainError("notification", "Find", ErrNotFound, "notification not found")
	ErrNotificationNotRetry = NewDomainError("notification", "Retry", ErrInvalidState, "only failed notifications can be retried")
	ErrMissingContent       = NewDomainError("notification", "Send", ErrValidation, "either template_id or message_content must be provided")
	ErrMissingPhone         = NewDomainError("notification", "Send", ErrValidation, "recipient phone is required")
	ErrInvalidRecipientType = NewDomainError("notification", "Validate", ErrInvalidInput, "invalid recipient type")
	ErrInvalidStatus        = NewDomainError("notification", "Validate", ErrInvalidInput, "invalid notification status")
	ErrInvalidTransition    = NewDomainError("notification", "Transition", ErrStateTransition, "invalid status transition")
	ErrStaleTransition      = NewDomainError("notification", "Transition", ErrStale, "webhook is older than recorded status")
)

// Template domain errors
var (
	ErrTemplateNotFound  = NewDomainError("template", "Find", ErrNotFound, "template not found")
	ErrTemplateVariables = NewDomainError("template", "Validate", ErrValidation, "missing required template variables")
)

// Ticket domain errors
var (
	ErrTicketNotFound    = NewDomainError("ticket", "Find", ErrNotFound, "ticket not found")
	ErrRecipientNotFound = NewDomainError("ticket", "ResolveRecipient", ErrNotFound, "recipient not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsTemplateError checks if the error comes from template lookup or rendering.
func IsTemplateError(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrTemplateVariables)
}
