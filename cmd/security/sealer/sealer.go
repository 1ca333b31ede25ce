// Package sealer encrypts and authenticates secrets stored at rest.
//
// It wraps gorilla/securecookie (HMAC-SHA256 + AES-CTR) with expiry checks and
// length limits disabled: refresh secrets are long-lived session cookies and
// can exceed the 4 KiB default.
package sealer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gorilla/securecookie"
)

const (
	// HashKeyEnv holds the base64 HMAC key (32 or 64 bytes).
	HashKeyEnv = "TEAMINVITE_SEAL_HASH_KEY"
	// BlockKeyEnv holds the base64 AES key (16, 24 or 32 bytes).
	BlockKeyEnv = "TEAMINVITE_SEAL_BLOCK_KEY"
)

var (
	// ErrKeysMissing is returned by FromEnv when the keys are not configured.
	ErrKeysMissing = errors.New("sealer keys missing")
	// ErrOpen is returned when a sealed value fails authentication or decoding.
	ErrOpen = errors.New("sealed value rejected")
)

// Sealer seals named string values.
type Sealer struct {
	sc *securecookie.SecureCookie
}

// New constructs a Sealer from raw keys.
func New(hashKey, blockKey []byte) (*Sealer, error) {
	if len(hashKey) < 32 {
		return nil, fmt.Errorf("sealer: hash key must be at least 32 bytes")
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("sealer: block key must be 16, 24 or 32 bytes")
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(0)
	sc.MaxLength(0)
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Sealer{sc: sc}, nil
}

// FromEnv builds a Sealer from TEAMINVITE_SEAL_HASH_KEY / TEAMINVITE_SEAL_BLOCK_KEY.
func FromEnv() (*Sealer, error) {
	rawHash := strings.TrimSpace(os.Getenv(HashKeyEnv))
	rawBlock := strings.TrimSpace(os.Getenv(BlockKeyEnv))
	if rawHash == "" || rawBlock == "" {
		return nil, ErrKeysMissing
	}
	hashKey, err := base64.StdEncoding.DecodeString(rawHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", HashKeyEnv, err)
	}
	blockKey, err := base64.StdEncoding.DecodeString(rawBlock)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", BlockKeyEnv, err)
	}
	return New(hashKey, blockKey)
}

// Seal encrypts value under name. Empty values stay empty.
func (s *Sealer) Seal(name, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	return s.sc.Encode(name, value)
}

// Open reverses Seal. The name must match the one used to seal.
func (s *Sealer) Open(name, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	var out string
	if err := s.sc.Decode(name, sealed, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return out, nil
}
