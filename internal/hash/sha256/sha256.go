// Package sha256 derives stable, non-reversible identifiers for API keys so
// they can be used as cache keys, limiter buckets and log fields.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters kept by Fingerprint.
const fingerprintLen = 16

// Sum returns the full hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short digest of secret that is safe to log. The empty
// secret maps to the empty fingerprint.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return Sum([]byte(secret))[:fingerprintLen]
}
