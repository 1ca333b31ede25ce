package redeem

import (
	"net/mail"
	"strings"
)

const maxEmailLen = 254

// NormalizeEmail validates a bare address and lower-cases it.
// Display-name forms ("A <a@x.io>") are rejected.
func NormalizeEmail(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxEmailLen {
		return "", ErrInvalidInput
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", ErrInvalidInput
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || !strings.Contains(s[at+1:], ".") {
		return "", ErrInvalidInput
	}
	return strings.ToLower(s), nil
}
