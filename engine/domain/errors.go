package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every lookup miss.
var ErrNotFound = errors.New("not found")

// Sentinel errors shared across engine packages.
var (
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)
	ErrBrandNotFound     = fmt.Errorf("brand %w", ErrNotFound)
	ErrInvalidQuery      = errors.New("invalid query")
	ErrInvalidBrand      = errors.New("invalid brand name")
	ErrInvalidSource     = errors.New("invalid source type")
	ErrInvalidEntry      = errors.New("invalid entry")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidWebsite    = errors.New("invalid website url")
	ErrScoreOutOfRange   = errors.New("score out of range")
	ErrSummaryEmpty      = errors.New("summary is empty")
	ErrSummaryTooLong    = errors.New("summary too long")
	ErrEmptyBatch        = errors.New("empty batch")
	ErrProviderTransient = errors.New("provider temporarily unavailable")
	ErrExtraction        = errors.New("extraction failed")
	ErrPersistence       = errors.New("persistence failed")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
