package admin

import "errors"

var (
	ErrInvalidInput = errors.New("invalid_input")
	// ErrNoUpstream means the operation needs the external API and none is configured.
	ErrNoUpstream = errors.New("upstream_not_configured")
)
