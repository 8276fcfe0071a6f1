package server

import (
	"net/http"

	"studiumai/internal/app"
	"studiumai/internal/security"
	"studiumai/pkg/domain"
)

type authResponse struct {
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    domain.PublicUser `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req app.SignupInput
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventSignup, security.OutcomeFail, "reason", "invalid_json")
		s.writeAppError(w, r, err)
		return
	}
	user, token, err := s.app.Signup(r.Context(), req)
	if err != nil {
		s.audit(r, security.EventSignup, security.OutcomeFail, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventSignup, security.OutcomeSuccess, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User created successfully",
		Token:   token,
		User:    user.Public(),
	})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req app.SigninInput
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventSignin, security.OutcomeFail, "reason", "invalid_json")
		s.writeAppError(w, r, err)
		return
	}
	user, token, err := s.app.Signin(r.Context(), req)
	if err != nil {
		s.audit(r, security.EventSignin, security.OutcomeFail, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventSignin, security.OutcomeSuccess, "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Message: "Signed in successfully",
		Token:   token,
		User:    user.Public(),
	})
}

func (s *Server) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req app.ResetRequestInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.RequestPasswordReset(r.Context(), req); err != nil {
		s.audit(r, security.EventResetRequest, security.OutcomeFail, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventResetRequest, security.OutcomeSuccess)
	writeMessage(w, http.StatusOK, "If an account with that email exists, a password reset link has been sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req app.ResetPasswordInput
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.app.ResetPassword(r.Context(), req); err != nil {
		s.audit(r, security.EventReset, security.OutcomeFail, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, security.EventReset, security.OutcomeSuccess)
	writeMessage(w, http.StatusOK, "Password has been reset successfully")
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	if err := s.app.Signout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": user.Public()})
}
