package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxKeyLength caps stored key length; longer keys are hashed.
const maxKeyLength = 64

// Key joins non-empty parts with ":". Keys longer than 64 bytes become the
// first 128 bits of their SHA-256, hex encoded, so attacker-controlled
// identifiers cannot bloat the backend.
func Key(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	combined := strings.Join(kept, ":")
	if len(combined) <= maxKeyLength {
		return combined
	}
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:16])
}
