package httpapi

import (
	"context"
	"errors"
	"net/http"

	"teaminvite/cmd/internal/accounting"
	"teaminvite/cmd/internal/admin"
	"teaminvite/cmd/internal/booking"
	"teaminvite/cmd/internal/invite"
	"teaminvite/cmd/internal/redeem"
	"teaminvite/cmd/internal/team"
	"teaminvite/cmd/internal/upstream"
)

// classify maps a domain error to (status, code, message). ok is false for
// unexpected errors, which are logged and reported as 500.
func classify(err error) (status int, code, msg string, ok bool) {
	switch {
	case errors.Is(err, redeem.ErrInvalidInput), errors.Is(err, admin.ErrInvalidInput),
		errors.Is(err, team.ErrInvalidInput), errors.Is(err, booking.ErrInvalidInput),
		errors.Is(err, invite.ErrInvalidInput), errors.Is(err, accounting.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", "invalid input", true
	case errors.Is(err, redeem.ErrCodeInvalid):
		return http.StatusBadRequest, "code_invalid", "invalid or expired code", true
	case errors.Is(err, redeem.ErrCodeUsed), errors.Is(err, invite.ErrConsumed):
		return http.StatusConflict, "code_used", "code already redeemed", true
	case errors.Is(err, redeem.ErrCodeBound):
		return http.StatusConflict, "code_in_use", "code is being redeemed by another address", true
	case errors.Is(err, redeem.ErrNotFound), errors.Is(err, team.ErrNotFound),
		errors.Is(err, booking.ErrNotFound), errors.Is(err, invite.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found", true
	case errors.Is(err, team.ErrConflict):
		return http.StatusConflict, "conflict", "account already registered", true
	case errors.Is(err, accounting.ErrNoGauge), errors.Is(err, admin.ErrNoUpstream):
		return http.StatusServiceUnavailable, "upstream_not_configured", "external API not configured", true
	case errors.Is(err, upstream.ErrChallengeBlocked):
		return http.StatusBadGateway, "challenge_blocked", "external API is serving a challenge page", true
	case errors.Is(err, upstream.ErrCredentialInvalid):
		return http.StatusBadGateway, "credential_invalid", "team credentials rejected", true
	case errors.Is(err, upstream.ErrAuthorizationExpired):
		return http.StatusBadGateway, "authorization_expired", "team authorization expired", true
	case errors.Is(err, upstream.ErrRejected):
		return http.StatusBadGateway, "upstream_rejected", err.Error(), true
	case errors.Is(err, upstream.ErrUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable", "external API unavailable", true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out", true
	}
	return http.StatusInternalServerError, "server_error", "internal error", false
}

func (h *Handler) writeErr(w http.ResponseWriter, event string, err error) {
	status, code, msg, ok := classify(err)
	if !ok {
		h.log.Error(event, "err", err)
	} else if status >= 500 {
		h.log.Warn(event, "err", err)
	}
	writeError(w, status, code, msg)
}
