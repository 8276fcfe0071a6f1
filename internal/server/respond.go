package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"studiumai/internal/app"
	"studiumai/internal/metrics"
	"studiumai/internal/security"
	"studiumai/internal/util"
	"studiumai/internal/validation"
)

const maxJSONBytes = 1 << 20

var errInvalidJSON = errors.New("Invalid JSON body")

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeAppError maps application errors to HTTP responses. Unknown errors
// are logged and reported as a generic 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": verr.Details,
		})
		return
	}
	switch {
	case errors.Is(err, errInvalidJSON),
		errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, app.ErrTokenAndPasswordRequired),
		errors.Is(err, app.ErrPasswordTooShort),
		errors.Is(err, app.ErrInvalidResetToken),
		errors.Is(err, app.ErrTitleAndContentRequired),
		errors.Is(err, app.ErrNoFile),
		errors.Is(err, app.ErrInvalidFileType),
		errors.Is(err, app.ErrMessageRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, app.ErrNoToken),
		errors.Is(err, app.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrAccessDenied):
		s.audit(r, security.EventResourceAccess, security.OutcomeDenied)
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotebookNotFound),
		errors.Is(err, app.ErrSourceNotFound),
		errors.Is(err, app.ErrFileNotFound),
		errors.Is(err, app.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// zeroed so required-field checks report the missing fields.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errInvalidJSON
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// audit logs a security_event, counts it and feeds the alerter. Alerter
// failures never affect the response.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	// The request logger already carries ip from WithClientIP.
	ip := util.ClientIPFromRequest(r)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == security.OutcomeSuccess {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}
	metrics.RecordSecurityEvent(event, outcome)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}
