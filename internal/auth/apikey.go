// Package auth provides workspace API key generation and hashing. Keys are
// opaque strings (split_ prefix + random bytes); only the sha256 is stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// APIKeyPrefix is the human-readable prefix on all Split API keys.
const APIKeyPrefix = "split_"

// GenerateAPIKey creates a new API key. Returns the raw key (shown to the
// user once) and the sha256 hex hash stored in the api_tokens table.
func GenerateAPIKey() (rawKey, keyHash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	rawKey = APIKeyPrefix + hex.EncodeToString(b)
	return rawKey, HashAPIKey(rawKey), nil
}

// HashAPIKey returns the sha256 hex hash of rawKey. Lookups go through the
// hash so a database leak does not expose usable keys.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
