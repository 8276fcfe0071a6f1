package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studiumai/internal/mail"
	"studiumai/internal/store"
	"studiumai/internal/util"
	"studiumai/internal/validation"
	"studiumai/pkg/auth"
	"studiumai/pkg/domain"
)

type SignupInput struct {
	Email    string  `json:"email" validate:"email"`
	Password string  `json:"password" validate:"min=6"`
	Name     *string `json:"name" validate:"omitempty,max=255"`
}

type SigninInput struct {
	Email    string `json:"email" validate:"email"`
	Password string `json:"password" validate:"min=1"`
}

type ResetRequestInput struct {
	Email string `json:"email" validate:"email"`
}

type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"min=6"`
}

// Signup registers a user and signs them in.
func (a *App) Signup(ctx context.Context, in SignupInput) (domain.User, string, error) {
	if in.Email == "" || in.Password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := validation.Struct(in); err != nil {
		return domain.User{}, "", err
	}
	_, exists, err := a.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrUserExists
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.timestamp()
	user := domain.User{
		ID:           util.NewID(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, "", ErrUserExists
		}
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Signin checks credentials and issues a fresh token.
func (a *App) Signin(ctx context.Context, in SigninInput) (domain.User, string, error) {
	if in.Email == "" || in.Password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := validation.Struct(in); err != nil {
		return domain.User{}, "", err
	}
	user, ok, err := a.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(in.Password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// RequestPasswordReset stores a fresh reset token and mails the link when the
// account exists. The result never reveals whether it does.
func (a *App) RequestPasswordReset(ctx context.Context, in ResetRequestInput) error {
	if in.Email == "" {
		return ErrEmailRequired
	}
	if err := validation.Struct(in); err != nil {
		return err
	}
	user, ok, err := a.store.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return nil
	}
	token, err := auth.NewResetToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := a.timestamp()
	if err := a.store.SetResetToken(ctx, user.ID, token, now.Add(auth.ResetTokenTTL)); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}

	logger := util.LoggerFromContext(ctx)
	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	msg, err := mail.PasswordResetMessage(user.Email, name, mail.ResetLink(a.frontendURL, token), auth.ResetTokenTTL, now)
	if err != nil {
		logger.Error("reset_email_render_failed", "user_id", user.ID, "err", err)
		return nil
	}
	if err := a.mailer.Send(ctx, msg); err != nil {
		logger.Error("reset_email_send_failed", "user_id", user.ID, "err", err)
	}
	return nil
}

// ResetPassword consumes a reset token. The hash swap and token clearing
// happen in one conditional write, so a token works at most once.
func (a *App) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Token = strings.TrimSpace(in.Token)
	if in.Token == "" || in.NewPassword == "" {
		return ErrTokenAndPasswordRequired
	}
	if err := auth.ValidatePassword(in.NewPassword); err != nil {
		return ErrPasswordTooShort
	}
	if err := validation.Struct(in); err != nil {
		return err
	}
	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := a.store.ResetPassword(ctx, in.Token, hash, a.timestamp())
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if !ok {
		return ErrInvalidResetToken
	}
	return nil
}

// Authenticate resolves the user behind a bearer token.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrNoToken
	}
	claims, err := a.tokens.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) || errors.Is(err, auth.ErrTokenRevoked) {
			return domain.User{}, ErrInvalidToken
		}
		return domain.User{}, fmt.Errorf("verify token: %w", err)
	}
	user, ok, err := a.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidToken
	}
	return user, nil
}

// Signout revokes token until it expires.
func (a *App) Signout(ctx context.Context, token string) error {
	if err := a.tokens.Revoke(ctx, token); err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			return ErrInvalidToken
		}
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
