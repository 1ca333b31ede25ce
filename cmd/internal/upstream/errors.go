package upstream

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to booking messages).
var (
	// ErrAuthorizationExpired is a 401/403 from the API: the access token is stale.
	ErrAuthorizationExpired = errors.New("authorization_expired")
	// ErrChallengeBlocked is a bot-challenge page. Retrying will not help; an
	// operator must supply a fresh refresh secret.
	ErrChallengeBlocked = errors.New("challenge_blocked")
	// ErrCredentialInvalid means the refresh secret is missing or was rejected.
	ErrCredentialInvalid = errors.New("credential_invalid")
	// ErrUnavailable covers network errors, timeouts, 429 and 5xx.
	ErrUnavailable = errors.New("unavailable")
	// ErrRejected is any other 4xx: the API refused the request itself.
	ErrRejected = errors.New("rejected")
)

// Error is a typed upstream failure with a stable Op + Kind contract.
// Msg may include the API's message; it never includes credentials.
type Error struct {
	Op     string
	Status int
	Kind   error
	Msg    string
}

func (e *Error) Error() string {
	s := fmt.Sprintf("upstream.%s: %v", e.Op, e.Kind)
	if e.Status > 0 {
		s += fmt.Sprintf(" (status=%d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Kind }

// NeedsOperator reports whether err can only be fixed by a person updating
// the team's credentials.
func NeedsOperator(err error) bool {
	return errors.Is(err, ErrChallengeBlocked) || errors.Is(err, ErrCredentialInvalid)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}
