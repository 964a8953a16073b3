package oidc

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex-encoded SHA-256 digest of a token. Refresh
// tokens are stored only in this form. The hash is unsalted so it can be
// used for lookup; this is safe only because tokens are generated from a
// cryptographically strong random source.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
