package database

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every store implementation
var (
	// ErrDuplicateKey is returned when a unique constraint (trade dedupe key) is violated
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrVersionConflict is returned when an optimistic update finds a newer version stored
	ErrVersionConflict = errors.New("version conflict")
)

// DBError represents a database operation error with context
type DBError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       interface{}
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s not found: %v", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Reason)
}

// WrapDBError wraps a database error with operation context.
// Sentinel errors pass through errors.Is unchanged.
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{
		Operation: operation,
		Err:       err,
	}
}

// NewNotFoundErrorWithID creates a new NotFoundError with an ID
func NewNotFoundErrorWithID(resource string, id interface{}) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidationErrorWithValue creates a new ValidationError with a value
func NewValidationErrorWithValue(field, reason string, value interface{}) error {
	return &ValidationError{
		Field:  field,
		Reason: reason,
		Value:  value,
	}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
