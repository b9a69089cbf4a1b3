package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SecureKey returns a fixed-length digest of the given parts, suitable as a
// storage key for values derived from user input (URLs, cookie paths).
func SecureKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(hash[:16])
}

// MaskSecret keeps only the edges of a secret for display.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 6 {
		return "***"
	}
	return value[:2] + "***" + value[len(value)-2:]
}
