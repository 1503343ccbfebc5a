package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns a hex SHA-256 of the parts joined with NUL separators,
// so ("ab", "c") and ("a", "bc") hash differently.
func HashString(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
