package booking

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("booking not found")
	// ErrCodeBound means another email holds a live booking for the code.
	ErrCodeBound = errors.New("code bound to another email")
	// ErrInvalidTransition means the booking is not in a state that allows the change.
	ErrInvalidTransition = errors.New("invalid booking transition")
)
