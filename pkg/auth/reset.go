package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ResetTokenTTL is how long a password reset token stays valid.
const ResetTokenTTL = 15 * time.Minute

const resetTokenBytes = 32

// NewResetToken returns 32 random bytes rendered as 64 hex characters.
func NewResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
