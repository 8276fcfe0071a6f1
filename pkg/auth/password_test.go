package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt cost: %v", err)
	}
	if cost != PasswordCost {
		t.Fatalf("cost = %d, want %d", cost, PasswordCost)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("expected empty hash to never match")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("123456"); err != nil {
		t.Fatalf("expected six chars to pass, got: %v", err)
	}
	if err := ValidatePassword("12345"); err != ErrPasswordTooShort {
		t.Fatalf("expected short password to fail, got: %v", err)
	}
}

func TestHashPasswordTruncatesLongInput(t *testing.T) {
	long := strings.Repeat("p", 80)
	hash, err := HashPassword(long)
	if err != nil {
		t.Fatalf("hash 80 byte password: %v", err)
	}
	if !CheckPassword(long, hash) {
		t.Fatalf("expected long password to match its hash")
	}
	if !CheckPassword(long[:72], hash) {
		t.Fatalf("expected bytes past 72 to be ignored")
	}
	if CheckPassword(long[:71], hash) {
		t.Fatalf("expected shorter prefix to fail")
	}
}
