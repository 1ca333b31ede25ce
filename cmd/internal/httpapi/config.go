package httpapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the HTTP surface.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// AdminKeyHash is the argon2id hash of the admin API key. Empty disables
	// the admin routes.
	AdminKeyHash string

	RedeemRateEvents int
	RedeemRateWindow time.Duration

	WatchPoll      time.Duration
	WatchTimeout   time.Duration
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:     64 << 10,
		RedeemRateEvents: 10,
		RedeemRateWindow: time.Minute,
		WatchPoll:        time.Second,
		WatchTimeout:     2 * time.Minute,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
	}
}

// LoadConfigFromEnv loads the HTTP config with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		TrustProxy:       envBool("TEAMINVITE_HTTP_TRUST_PROXY", false),
		MaxBodyBytes:     envInt64("TEAMINVITE_HTTP_MAX_BODY_BYTES", def.MaxBodyBytes),
		AdminKeyHash:     strings.TrimSpace(os.Getenv("TEAMINVITE_ADMIN_KEY_HASH")),
		RedeemRateEvents: envInt("TEAMINVITE_REDEEM_RATE_EVENTS", def.RedeemRateEvents),
		RedeemRateWindow: envDuration("TEAMINVITE_REDEEM_RATE_WINDOW", def.RedeemRateWindow),
		WatchPoll:        envDuration("TEAMINVITE_WATCH_POLL", def.WatchPoll),
		WatchTimeout:     envDuration("TEAMINVITE_WATCH_TIMEOUT", def.WatchTimeout),
		AllowedOrigins:   envCSV("TEAMINVITE_WS_ALLOWED_ORIGINS", def.AllowedOrigins),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
