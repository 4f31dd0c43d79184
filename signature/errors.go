package signature

import "errors"

var (
	// ErrNotFound is returned when no signature record exists for the provided identifier.
	ErrNotFound = errors.New("signature: not found")
	// ErrInvalidTransition signals the record is already in a terminal state.
	// The record is left untouched.
	ErrInvalidTransition = errors.New("signature: invalid transition")
	// ErrValidation signals malformed input rejected before any mutation.
	ErrValidation = errors.New("signature: validation failed")
)
