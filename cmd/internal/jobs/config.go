package jobs

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrConfig = errors.New("jobs config invalid")

const (
	EnvSyncSpec    = "TEAMINVITE_SYNC_SPEC"
	EnvRefreshSpec = "TEAMINVITE_REFRESH_SPEC"
	EnvRepairSpec  = "TEAMINVITE_REPAIR_SPEC"
	EnvJobTimeout  = "TEAMINVITE_JOB_TIMEOUT"
)

// Config holds the schedules. An empty spec disables that job.
type Config struct {
	SyncSpec    string
	RefreshSpec string
	RepairSpec  string
	// Timeout bounds one run of a job across all teams.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{SyncSpec: "@every 10m", RefreshSpec: "@every 30m", RepairSpec: "@every 5m", Timeout: 5 * time.Minute}
}

func (c Config) Validate() error {
	for name, spec := range map[string]string{EnvSyncSpec: c.SyncSpec, EnvRefreshSpec: c.RefreshSpec, EnvRepairSpec: c.RepairSpec} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfig, name, err)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrConfig, EnvJobTimeout)
	}
	return nil
}

// LoadConfigFromEnv reads the schedules. "off" disables a job.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v, ok := os.LookupEnv(EnvSyncSpec); ok {
		cfg.SyncSpec = specValue(v)
	}
	if v, ok := os.LookupEnv(EnvRefreshSpec); ok {
		cfg.RefreshSpec = specValue(v)
	}
	if v, ok := os.LookupEnv(EnvRepairSpec); ok {
		cfg.RepairSpec = specValue(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvJobTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrConfig, EnvJobTimeout, err)
		}
		cfg.Timeout = d
	}
	return cfg, cfg.Validate()
}

func specValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "off") {
		return ""
	}
	return v
}
