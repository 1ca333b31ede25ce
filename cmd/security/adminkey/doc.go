// Package adminkey hashes and verifies the administrator API key.
//
// The key itself is never configured in plaintext: operators store an Argon2id
// hash (PHC-like encoding) in TEAMINVITE_ADMIN_KEY_HASH, produced by
// `teaminvite admin hash-key`.
//
// Hash strings are treated as untrusted input during Verify; parameters far
// above the configured cost are refused.
package adminkey
