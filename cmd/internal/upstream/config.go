package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

var ErrConfig = errors.New("upstream config invalid")

// Config points the client at the external team API.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/backend-api.
	BaseURL string
	// SessionURL exchanges a refresh secret (cookie jar) for an access token.
	SessionURL string
	// Timeout bounds every single HTTP call.
	Timeout   time.Duration
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://127.0.0.1:9090/api",
		SessionURL: "http://127.0.0.1:9090/api/auth/session",
		Timeout:    15 * time.Second,
		UserAgent:  "teaminvite/1.0",
	}
}

// LoadConfigFromEnv reads TEAMINVITE_UPSTREAM_* on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("TEAMINVITE_UPSTREAM_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TEAMINVITE_UPSTREAM_SESSION_URL")); v != "" {
		cfg.SessionURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TEAMINVITE_UPSTREAM_USER_AGENT")); v != "" {
		cfg.UserAgent = v
	}
	if v := strings.TrimSpace(os.Getenv("TEAMINVITE_UPSTREAM_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: TEAMINVITE_UPSTREAM_TIMEOUT: %v", ErrConfig, err)
		}
		cfg.Timeout = d
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	for name, raw := range map[string]string{"base url": c.BaseURL, "session url": c.SessionURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s %q", ErrConfig, name, raw)
		}
	}
	if c.Timeout <= 0 || c.Timeout > 5*time.Minute {
		return fmt.Errorf("%w: timeout %s", ErrConfig, c.Timeout)
	}
	return nil
}
