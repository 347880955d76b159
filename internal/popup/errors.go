package popup

import "errors"

// Validation errors.
var (
	ErrInvalidRecord     = errors.New("invalid popup record")
	ErrInvalidDecision   = errors.New("decision must be one of close, keep, dismiss, timeout")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrEmptyPopupID      = errors.New("popup ID cannot be empty")
)
