package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared across collector, aggregation and experiments.
var (
	// ErrValidation marks malformed or out-of-range input, rejected before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownTrade is returned when a close/cancel references a trade that was never opened.
	ErrUnknownTrade = errors.New("unknown trade")

	// ErrDuplicateTrade is returned when an open event repeats an existing trade id.
	ErrDuplicateTrade = errors.New("duplicate trade")

	// ErrTerminalTrade is returned when a close/cancel targets a trade already CLOSED or CANCELLED.
	ErrTerminalTrade = errors.New("trade already in terminal state")

	// ErrEnrichmentUnavailable marks a context provider failure. Callers degrade to defaults.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

	// ErrPersistence marks a store failure. Fatal for the affected operation.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidTransition is returned for a disallowed experiment status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrExperimentNotFound is returned for unknown experiment ids.
	ErrExperimentNotFound = errors.New("experiment not found")
)

// ValidationError describes which field failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a store failure with the operation that triggered it.
func PersistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
