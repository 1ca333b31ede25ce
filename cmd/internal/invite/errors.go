package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("code not found")
	// ErrNotActive covers revoked and expired codes.
	ErrNotActive = errors.New("code not active")
	// ErrConsumed means the code was redeemed by a different email.
	ErrConsumed = errors.New("code already consumed")
)
