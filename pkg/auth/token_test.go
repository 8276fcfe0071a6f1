package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{Secret: "test-secret", TTL: time.Hour})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	return m
}

func TestTokenManagerIssueAndVerify(t *testing.T) {
	m := newTestManager(t)
	token, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Subject != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("token lifetime = %v, want 1h", got)
	}
}

func TestTokenManagerIssuesDistinctTokens(t *testing.T) {
	m := newTestManager(t)
	first, _ := m.Issue("user-1")
	second, _ := m.Issue("user-1")
	if first == second {
		t.Fatalf("expected distinct tokens for repeated sign-ins")
	}
}

func TestTokenManagerDefaultsToSevenDays(t *testing.T) {
	m, err := NewTokenManager(TokenConfig{Secret: "s"})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	if m.TTL() != 7*24*time.Hour {
		t.Fatalf("default ttl = %v", m.TTL())
	}
}

func TestTokenManagerRejectsTampered(t *testing.T) {
	m := newTestManager(t)
	other, err := NewTokenManager(TokenConfig{Secret: "other-secret"})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	token, _ := other.Issue("user-1")
	if _, err := m.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := m.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token for garbage, got %v", err)
	}
}

func TestTokenManagerRejectsExpired(t *testing.T) {
	m := newTestManager(t)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _ := m.Issue("user-1")
	m.now = time.Now
	if _, err := m.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestTokenManagerRejectsNoneAlgorithm(t *testing.T) {
	m := newTestManager(t)
	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Verify(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected none alg to fail, got %v", err)
	}
}

func TestTokenManagerRevoke(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	token, _ := m.Issue("user-1")
	if err := m.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.Verify(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	fresh, _ := m.Issue("user-1")
	if _, err := m.Verify(ctx, fresh); err != nil {
		t.Fatalf("fresh token should stay valid: %v", err)
	}
}

func TestNewResetToken(t *testing.T) {
	first, err := NewResetToken()
	if err != nil {
		t.Fatalf("reset token: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("reset token length = %d, want 64", len(first))
	}
	for _, r := range first {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Fatalf("non-hex rune %q in %s", r, first)
		}
	}
	second, _ := NewResetToken()
	if first == second {
		t.Fatalf("expected distinct reset tokens")
	}
}
