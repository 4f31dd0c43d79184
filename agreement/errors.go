package agreement

import "errors"

var (
	// ErrNotFound is returned when no agreement row exists for the provided identifier.
	ErrNotFound = errors.New("agreement: not found")
	// ErrInvalidTransition signals the requested status change has no edge in
	// the lifecycle table. The agreement is left untouched.
	ErrInvalidTransition = errors.New("agreement: invalid transition")
	// ErrValidation signals malformed input rejected before any mutation.
	ErrValidation = errors.New("agreement: validation failed")
)
