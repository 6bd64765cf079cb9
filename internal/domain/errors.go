package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during audit operations.
var (
	// ErrNotFound indicates that a requested interaction or audit does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded indicates that a hard monthly quota has been reached.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrPersistence indicates that an audit could not be written.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Fields reported by ValidationError. Each is a configuration problem the
// caller can fix.
const (
	FieldCampaign   = "campaign"
	FieldSubject    = "subject"
	FieldPolicy     = "policy"
	FieldRubric     = "rubric"
	FieldTranscript = "transcript"
	FieldVerdicts   = "verdicts"
)

// ValidationError reports a missing or invalid input. Field names the
// offending input so callers can surface a specific message.
type ValidationError struct {
	// Field is the name of the input that failed validation.
	Field string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Field, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Field, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// Code returns a stable machine-readable code for the failing field.
func (e *ValidationError) Code() string {
	switch e.Field {
	case FieldCampaign:
		return "MISSING_CAMPAIGN"
	case FieldSubject:
		return "MISSING_SUBJECT"
	case FieldPolicy:
		return "MISSING_POLICY"
	case FieldRubric:
		return "MISSING_RUBRIC"
	case FieldTranscript:
		return "MISSING_TRANSCRIPT"
	default:
		return "INVALID_REQUEST"
	}
}

// NewValidationError creates a new ValidationError for the given field.
func NewValidationError(field string, msgs ...string) *ValidationError {
	return &ValidationError{
		Field:  field,
		Errors: append(make([]string, 0, len(msgs)), msgs...),
	}
}

// NotFoundError reports an absent interaction or audit.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is makes NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// QuotaExceededError carries the first violated quota dimension with the
// usage and limit that triggered the denial.
type QuotaExceededError struct {
	CampaignID int64
	Dimension  QuotaDimension
	Used       float64
	Limit      float64
}

// Error implements the error interface for QuotaExceededError.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("campaign %d: monthly %s limit exceeded (used %.2f of %.2f)",
		e.CampaignID, e.Dimension, e.Used, e.Limit)
}

// Is makes QuotaExceededError match ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// PersistenceError reports an audit write that failed after the automatic
// sequence repair.
type PersistenceError struct {
	// Operation is the repository operation that failed.
	Operation string

	// Attempts is the number of write attempts made.
	Attempts int

	// Err is the underlying database error.
	Err error
}

// Error implements the error interface for PersistenceError.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: operation=%s, attempts=%d, err=%v", e.Operation, e.Attempts, e.Err)
}

// Unwrap returns the underlying error, supporting Go 1.13+ error unwrapping.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes PersistenceError match ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// NewPersistenceError creates a new PersistenceError with the given details.
func NewPersistenceError(operation string, attempts int, err error) *PersistenceError {
	return &PersistenceError{
		Operation: operation,
		Attempts:  attempts,
		Err:       err,
	}
}
