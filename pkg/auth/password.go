package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt work factor applied to stored passwords.
const PasswordCost = 10

// MinPasswordLength is the shortest password accepted on signup and reset.
const MinPasswordLength = 6

var ErrPasswordTooShort = errors.New("Password must be at least 6 characters long")

// bcrypt only reads the first 72 bytes; longer input is truncated to match.
const maxPasswordBytes = 72

func passwordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(passwordBytes(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), passwordBytes(password)) == nil
}

// ValidatePassword enforces the minimum length policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}
