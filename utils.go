package raffle

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// lockValueLength is the number of random bytes in a lock owner token
const lockValueLength = 16

// generateLockValue generates a unique lock owner token using crypto/rand
func generateLockValue() (string, error) {
	buf := make([]byte, lockValueLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate lock value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateSessionID rejects IDs that cannot be used as Redis key suffixes
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return ErrInvalidParameters.WithDetails("empty session ID")
	}
	for _, r := range sessionID {
		if r <= ' ' || r == '*' || r == '?' || r == '[' || r == ']' {
			return ErrInvalidParameters.WithDetailsf("session ID %q contains %q", sessionID, r)
		}
	}
	return nil
}
