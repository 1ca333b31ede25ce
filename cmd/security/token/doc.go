// Package token provides hashing primitives for redemption codes.
//
// Codes are never stored in plaintext. The stored form is a 64-char hex digest:
//   - HMAC-SHA256(code, key) when TEAMINVITE_CODE_HMAC_KEY is set.
//   - SHA-256(code) otherwise (dev mode).
//
// Codes are normalized (trimmed, upper-cased, dashes removed) before hashing so
// that "abcd-efgh" and "ABCDEFGH" resolve to the same row.
package token
