package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals a malformed or missing request field.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound signals a missing trial record.
	ErrNotFound = errors.New("not found")
	// ErrEmbeddingUnavailable signals that the embedding model could not be loaded or called.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrCorpusUnavailable signals that no trial records are loaded.
	ErrCorpusUnavailable = errors.New("trial data not available")
	// ErrDataSource signals a malformed raw trial row.
	ErrDataSource = errors.New("malformed trial row")
)

// ValidationError is a rejected request with a message safe to show clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
