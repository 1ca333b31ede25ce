package adminkey

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config is the single configuration surface for this package.
type Config struct {
	Params    Argon2idParams
	MinLength int
	MaxLength int
}

// DefaultConfig returns the baseline cost. Admin requests are rare, so the
// memory cost matches an interactive login.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 24,
		MaxLength: 512,
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - TEAMINVITE_ADMIN_KEY_MIN_LEN
//   - TEAMINVITE_ARGON2_MEMORY_KIB
//   - TEAMINVITE_ARGON2_ITERATIONS
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("TEAMINVITE_ADMIN_KEY_MIN_LEN"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 16 || n > cfg.MaxLength {
			return Config{}, fmt.Errorf("TEAMINVITE_ADMIN_KEY_MIN_LEN: invalid value %q", v)
		}
		cfg.MinLength = n
	}

	if v, ok := os.LookupEnv("TEAMINVITE_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 8*1024, 1024*1024)
		if err != nil {
			return Config{}, fmt.Errorf("TEAMINVITE_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("TEAMINVITE_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("TEAMINVITE_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	return cfg, nil
}

func atou32(v string, minV, maxV uint32) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, err
	}
	if uint32(n) < minV || uint32(n) > maxV {
		return 0, fmt.Errorf("out of range [%d..%d]", minV, maxV)
	}
	return uint32(n), nil
}
