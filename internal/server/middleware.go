package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"studiumai/internal/metrics"
	"studiumai/internal/ratelimit"
	"studiumai/internal/security"
	"studiumai/internal/util"
	"studiumai/pkg/domain"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"https://studium-ai.com",
	"https://www.studium-ai.com",
	"capacitor://localhost",
	"ionic://localhost",
	"http://localhost",
}

func allowedOrigins(extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(defaultOrigins)+len(extra))
	for _, origin := range append(append([]string{}, defaultOrigins...), extra...) {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			out[origin] = struct{}{}
		}
	}
	return out
}

func (s *Server) allowOrigin(_ *http.Request, origin string) bool {
	if _, ok := s.origins[origin]; ok {
		return true
	}
	if s.env != "development" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: s.allowOrigin,
		AllowedMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Requested-With",
			"X-Client-Type",
			"X-App-Version",
			"X-Device-ID",
		},
		ExposedHeaders:   []string{"X-Total-Count", "X-Page-Count"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

// withMetrics records request counts and latency labelled by route pattern
// so path parameters do not explode cardinality.
func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

type clientContextKey struct{}

type userContextKey struct{}

// ClientFromContext returns the client detected for the request.
func ClientFromContext(ctx context.Context) domain.ClientInfo {
	if info, ok := ctx.Value(clientContextKey{}).(domain.ClientInfo); ok {
		return info
	}
	return domain.ClientInfo{Type: domain.ClientUnknown}
}

func userFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(domain.User)
	return user, ok
}

// detectClientType prefers the explicit X-Client-Type header and falls back
// to user agent sniffing.
func detectClientType(r *http.Request) domain.ClientType {
	if v := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Client-Type"))); v != "" {
		return domain.ClientType(v)
	}
	ua := strings.ToLower(r.UserAgent())
	switch {
	case strings.Contains(ua, "ipad"):
		return domain.ClientTablet
	case strings.Contains(ua, "iphone"):
		return domain.ClientIOS
	case strings.Contains(ua, "android"):
		if strings.Contains(ua, "tablet") {
			return domain.ClientTablet
		}
		return domain.ClientAndroid
	}
	return domain.ClientWeb
}

func (s *Server) detectClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := domain.ClientInfo{
			Type:       detectClientType(r),
			AppVersion: strings.TrimSpace(r.Header.Get("X-App-Version")),
			DeviceID:   strings.TrimSpace(r.Header.Get("X-Device-ID")),
		}
		ctx := context.WithValue(r.Context(), clientContextKey{}, info)
		logger := util.LoggerFromContext(ctx).With("client_type", string(info.Type))
		logger.Debug("client_detected", "app_version", info.AppVersion, "device_id", info.DeviceID)
		ctx = util.ContextWithLogger(ctx, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireMinVersion rejects clients older than the configured minimum.
// Requests without a version header pass.
func (s *Server) requireMinVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.minAppVersion == "" {
			next.ServeHTTP(w, r)
			return
		}
		version := ClientFromContext(r.Context()).AppVersion
		if version != "" && compareVersions(version, s.minAppVersion) < 0 {
			writeJSON(w, http.StatusUpgradeRequired, map[string]string{
				"error": fmt.Sprintf("App version %s is no longer supported. Please update to version %s or higher.", version, s.minAppVersion),
				"code":  "UPGRADE_REQUIRED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compareVersions compares dotted numeric versions part by part. Missing or
// non-numeric parts count as zero.
func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")
	n := max(len(pa), len(pb))
	for i := range n {
		var x, y int
		if i < len(pa) {
			x, _ = strconv.Atoi(strings.TrimSpace(pa[i]))
		}
		if i < len(pb) {
			y, _ = strconv.Atoi(strings.TrimSpace(pb[i]))
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// requireUser resolves the bearer token to a user and stores it on the context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := bearerToken(r)
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			s.audit(r, security.EventAuthenticate, security.OutcomeFail, "reason", err.Error())
			s.writeAppError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limit applies a per-client fixed window. Keys are scoped by event rather
// than path so the /api alias shares the /api/v1 budget.
func (s *Server) limit(limiter ratelimit.Limiter, event string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := event + "|" + util.ClientIPFromRequest(r)
			if !limiter.Allow(r.Context(), key) {
				s.audit(r, event, security.OutcomeRateLimited)
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
