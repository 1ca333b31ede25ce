package httpapi

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"teaminvite/cmd/security/adminkey"
)

const maxVerifiedKeys = 8

// keyVerifier checks the admin bearer key. Argon2id verification is slow;
// digests of keys that already verified are remembered.
type keyVerifier struct {
	cfg  adminkey.Config
	hash string

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

func newKeyVerifier(cfg adminkey.Config, hash string) *keyVerifier {
	return &keyVerifier{cfg: cfg, hash: strings.TrimSpace(hash), verified: make(map[[sha256.Size]byte]struct{})}
}

func (v *keyVerifier) enabled() bool { return v != nil && v.hash != "" }

func (v *keyVerifier) check(key string) bool {
	if !v.enabled() || key == "" {
		return false
	}
	sum := sha256.Sum256([]byte(key))
	v.mu.Lock()
	_, ok := v.verified[sum]
	v.mu.Unlock()
	if ok {
		return true
	}

	ok, err := v.cfg.Verify(v.hash, key)
	if err != nil || !ok {
		return false
	}
	v.mu.Lock()
	if len(v.verified) >= maxVerifiedKeys {
		clear(v.verified)
	}
	v.verified[sum] = struct{}{}
	v.mu.Unlock()
	return true
}

// requireAdmin wraps next with bearer admin-key authentication.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.keys.enabled() {
			writeError(w, http.StatusServiceUnavailable, "admin_disabled", "admin API not configured")
			return
		}
		key := bearerToken(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !h.keys.check(key) {
			h.log.Warn("http.admin.auth.fail", "remote", clientIP(r, h.cfg.TrustProxy))
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
