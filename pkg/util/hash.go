package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RequestToken derives a stable hex token from its parts. Equal inputs always
// yield equal tokens, so it is safe to use as an idempotency key.
func RequestToken(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}
