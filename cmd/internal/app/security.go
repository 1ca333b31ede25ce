package app

import (
	"errors"
	"fmt"

	"teaminvite/cmd/security/sealer"
	"teaminvite/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. It fails
// rather than falling back to weaker storage of codes or team credentials.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RequireCodeHMAC {
		if _, err := token.HMACKeyFromEnv(32); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return fmt.Errorf("security policy: TEAMINVITE_REQUIRE_CODE_HMAC=true but %s is missing", token.HMACEnvKey)
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return fmt.Errorf("security policy: TEAMINVITE_REQUIRE_CODE_HMAC=true but %s is too short (min 32 bytes)", token.HMACEnvKey)
			default:
				return err
			}
		}
		if !token.HMACEnabled() {
			return errors.New("security policy: TEAMINVITE_REQUIRE_CODE_HMAC=true but code hashing is not in HMAC mode")
		}
	}

	if cfg.RequireSealing && cfg.DatabaseURL != "" {
		if _, err := sealer.FromEnv(); err != nil {
			return fmt.Errorf("security policy: TEAMINVITE_REQUIRE_SEALING=true: %w", err)
		}
	}

	return nil
}

// loadSealer returns the credential sealer, or nil when no keys are set.
func loadSealer(cfg Config) (*sealer.Sealer, error) {
	s, err := sealer.FromEnv()
	if errors.Is(err, sealer.ErrKeysMissing) && !cfg.RequireSealing {
		return nil, nil
	}
	return s, err
}
