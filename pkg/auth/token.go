package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultTokenTTL = 7 * 24 * time.Hour
	defaultIssuer   = "studium-ai"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims carries the user id alongside the registered JWT claims.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenConfig configures HS256 session tokens.
type TokenConfig struct {
	Secret  string
	TTL     time.Duration
	Issuer  string
	Leeway  time.Duration
	Revoker TokenRevoker
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	leeway  time.Duration
	revoker TokenRevoker
	now     func() time.Time
}

// NewTokenManager validates cfg and builds a manager.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("jwt secret required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	revoker := cfg.Revoker
	if revoker == nil {
		revoker = NewMemoryTokenRevoker()
	}
	return &TokenManager{
		secret:  []byte(secret),
		ttl:     ttl,
		issuer:  issuer,
		leeway:  cfg.Leeway,
		revoker: revoker,
		now:     time.Now,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new token for userID. Every token gets a unique jti.
func (m *TokenManager) Issue(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id required")
	}
	now := m.now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token, checks signature, expiry, issuer and revocation.
func (m *TokenManager) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.ID != "" {
		revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke blocks token until its natural expiry.
func (m *TokenManager) Revoke(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return ErrTokenInvalid
	}
	ttl := claims.ExpiresAt.Time.Sub(m.now())
	return m.revoker.Revoke(ctx, claims.ID, ttl)
}

func (m *TokenManager) parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenInvalid
	}
	claims := Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(m.leeway))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" {
		claims.UserID = claims.Subject
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
