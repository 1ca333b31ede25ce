package redeem

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput = errors.New("invalid_input")
	// ErrCodeInvalid covers unknown, revoked and expired codes.
	ErrCodeInvalid = errors.New("code_invalid")
	// ErrCodeUsed means the code was redeemed by another email.
	ErrCodeUsed = errors.New("code_used")
	// ErrCodeBound means another email's redemption of the code is in progress.
	ErrCodeBound = errors.New("code_bound")
	ErrNotFound  = errors.New("not_found")
)

// errAbandoned fails a booking that stopped before reaching a team.
var errAbandoned = errors.New("redemption abandoned")
