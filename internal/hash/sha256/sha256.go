// Package sha256 names archived artifacts by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of the digest, or all of it when n
// is out of range.
func Short(data []byte, n int) string {
	full := Hex(data)
	if n <= 0 || n >= len(full) {
		return full
	}
	return full[:n]
}
