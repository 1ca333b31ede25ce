package app

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the process-level runtime configuration. Component
// settings (upstream, credential, jobs, httpapi) are loaded by their own
// packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// RequireCodeHMAC refuses to start unless code hashing is keyed.
	RequireCodeHMAC bool
	// RequireSealing refuses to start with Postgres unless team credentials are encrypted at rest.
	RequireSealing bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// AlertDedupWindow suppresses repeat operator alerts per team and reason.
	AlertDedupWindow time.Duration
	// SelfHealTTL bounds how often a reservation may read the external seat count.
	SelfHealTTL time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TEAMINVITE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TEAMINVITE_LOG_LEVEL", "info"),
		LogFormat: EnvString("TEAMINVITE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TEAMINVITE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TEAMINVITE_HTTP_READ_TIMEOUT", 15*time.Second),
		// Redemptions wait on the external invite call.
		WriteTimeout:    EnvDuration("TEAMINVITE_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     EnvDuration("TEAMINVITE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:  EnvInt("TEAMINVITE_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout: EnvDuration("TEAMINVITE_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("TEAMINVITE_DATABASE_URL", ""),
		DBSchema:    EnvString("TEAMINVITE_DB_SCHEMA", "teaminvite"),
		DBMaxConns:  EnvInt32("TEAMINVITE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TEAMINVITE_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("TEAMINVITE_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("TEAMINVITE_READINESS_REQUIRE_DB", false),

		RequireCodeHMAC: EnvBool("TEAMINVITE_REQUIRE_CODE_HMAC", false),
		RequireSealing:  EnvBool("TEAMINVITE_REQUIRE_SEALING", false),

		CORSAllowedOrigins:   EnvCSV("TEAMINVITE_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("TEAMINVITE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("TEAMINVITE_CORS_MAX_AGE_SECONDS", 600),

		AlertDedupWindow: EnvDuration("TEAMINVITE_ALERT_DEDUP_WINDOW", time.Hour),
		SelfHealTTL:      EnvDuration("TEAMINVITE_SELF_HEAL_TTL", 5*time.Minute),
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set win. Missing files are skipped; with no paths ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}
