package credential

import (
	"errors"
	"os"
	"time"
)

var ErrConfig = errors.New("credential config invalid")

// Config controls when access tokens are refreshed.
type Config struct {
	// LookAhead refreshes a token whose exp claim is within this window.
	LookAhead time.Duration
	// MaxInterval refreshes tokens without a readable expiry this long after
	// the last success.
	MaxInterval time.Duration
	// Cooldown suppresses non-forced refreshes this soon after any attempt.
	Cooldown time.Duration
	// RefreshTimeout bounds one shared refresh call.
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		LookAhead:      24 * time.Hour,
		MaxInterval:    12 * time.Hour,
		Cooldown:       10 * time.Minute,
		RefreshTimeout: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads refresh policy overrides:
//   - TEAMINVITE_REFRESH_LOOKAHEAD
//   - TEAMINVITE_REFRESH_MAX_INTERVAL
//   - TEAMINVITE_REFRESH_COOLDOWN
//   - TEAMINVITE_REFRESH_TIMEOUT
//
// Returns ErrConfig if a value is not a positive duration.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	for key, dst := range map[string]*time.Duration{
		"TEAMINVITE_REFRESH_LOOKAHEAD":    &cfg.LookAhead,
		"TEAMINVITE_REFRESH_MAX_INTERVAL": &cfg.MaxInterval,
		"TEAMINVITE_REFRESH_COOLDOWN":     &cfg.Cooldown,
		"TEAMINVITE_REFRESH_TIMEOUT":      &cfg.RefreshTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		*dst = d
	}
	return cfg, nil
}
