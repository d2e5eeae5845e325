package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the first 16 hex characters of the SHA256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashBytes returns the first 16 hex characters of the SHA256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
