package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string used for entity and request ids.
func NewID() string {
	return uuid.NewString()
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
