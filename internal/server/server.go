package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"studiumai/internal/app"
	"studiumai/internal/metrics"
	"studiumai/internal/ratelimit"
	"studiumai/internal/security"
	"studiumai/internal/util"
)

// APIVersion is reported by /api/health and /api/version.
const APIVersion = "1.0.0"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Env                        string
	CORSAllowedOrigins         []string
	MinAppVersion              string
	TrustedProxies             *util.TrustedProxies
	Alerter                    *security.AuditAlerter
	RedisAddr                  string
	RedisPassword              string
	APIRateLimitPerMinute      int
	SignupRateLimitPerMinute   int
	SigninRateLimitPerMinute   int
	PasswordRateLimitPerMinute int
	Now                        func() time.Time
}

// Server exposes the Studium HTTP API.
type Server struct {
	app             *app.App
	env             string
	origins         map[string]struct{}
	minAppVersion   string
	trusted         *util.TrustedProxies
	alerter         *security.AuditAlerter
	apiLimit        int
	signupLimiter   ratelimit.Limiter
	signinLimiter   ratelimit.Limiter
	passwordLimiter ratelimit.Limiter
	closers         []func() error
	now             func() time.Time
	router          chi.Router
}

// New constructs the server with routes configured. Auth endpoint limiters
// are shared through Redis when an address is configured and kept in
// process otherwise.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	s := &Server{
		app:           cfg.App,
		env:           cfg.Env,
		origins:       allowedOrigins(cfg.CORSAllowedOrigins),
		minAppVersion: cfg.MinAppVersion,
		trusted:       cfg.TrustedProxies,
		alerter:       cfg.Alerter,
		apiLimit:      cfg.APIRateLimitPerMinute,
		now:           cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	signinLimit := cfg.SigninRateLimitPerMinute
	if signinLimit <= 0 {
		signinLimit = 10
	}
	passwordLimit := cfg.PasswordRateLimitPerMinute
	if passwordLimit <= 0 {
		passwordLimit = 10
	}
	newLimiter := func(name string, limit int) (ratelimit.Limiter, error) {
		if cfg.RedisAddr == "" {
			limiter, err := ratelimit.NewMemoryFixedWindowLimiter(limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		prefix := "studium:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		s.closers = append(s.closers, limiter.Close)
		return limiter, nil
	}
	var err error
	if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
		s.Close()
		return nil, err
	}
	if s.signinLimiter, err = newLimiter("signin", signinLimit); err != nil {
		s.Close()
		return nil, err
	}
	if s.passwordLimiter, err = newLimiter("password", passwordLimit); err != nil {
		s.Close()
		return nil, err
	}
	s.router = s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Route is one registered method and pattern.
type Route struct {
	Method  string
	Pattern string
}

// Routes lists every registered route, sorted by pattern then method.
func (s *Server) Routes() ([]Route, error) {
	var out []Route
	err := chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, Route{Method: method, Pattern: strings.TrimSuffix(route, "/")})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk routes: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

// Close releases limiter connections.
func (s *Server) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(util.WithRequestID)
	r.Use(func(next http.Handler) http.Handler { return util.WithClientIP(s.trusted, next) })
	r.Use(util.WithRequestLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(util.WithSecurityHeaders)
	r.Use(s.corsHandler())
	r.Use(withMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", s.handleLiveness)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	// One limiter instance so /api and /api/v1 share a budget.
	api := func(next http.Handler) http.Handler { return next }
	if s.apiLimit > 0 {
		api = httprate.Limit(s.apiLimit, time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return util.ClientIPFromRequest(r), nil
			}),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later.")
			}),
		)
	}

	r.Group(func(r chi.Router) {
		r.Use(api)
		r.Use(s.detectClient)
		r.Use(s.requireMinVersion)
		r.Get("/api/health", s.handleHealth)
		r.Get("/api/version", s.handleVersion)
		r.Route("/api/v1", s.apiRoutes)
		r.Route("/api", s.apiRoutes)
	})
	return r
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.With(s.limit(s.signupLimiter, security.EventSignup)).Post("/signup", s.handleSignup)
		r.With(s.limit(s.signinLimiter, security.EventSignin)).Post("/signin", s.handleSignin)
		r.With(s.limit(s.passwordLimiter, security.EventResetRequest)).Post("/request-password-reset", s.handleRequestPasswordReset)
		r.With(s.limit(s.passwordLimiter, security.EventReset)).Post("/reset-password", s.handleResetPassword)
		r.With(s.requireUser).Post("/signout", s.handleSignout)
		r.With(s.requireUser).Get("/me", s.handleMe)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/notebooks", s.handleListNotebooks)
		r.Post("/notebooks", s.handleCreateNotebook)
		r.Get("/notebooks/{id}", s.handleGetNotebook)
		r.Put("/notebooks/{id}", s.handleUpdateNotebook)
		r.Delete("/notebooks/{id}", s.handleDeleteNotebook)

		r.Post("/notebooks/{id}/sources", s.handleUploadSource)
		r.Get("/notebooks/{id}/sources", s.handleListSources)
		r.Delete("/sources/{id}", s.handleDeleteSource)
		r.Get("/sources/{id}/download", s.handleDownloadSource)

		r.Post("/notebooks/{id}/conversations", s.handleCreateConversation)
		r.Get("/notebooks/{id}/conversations", s.handleListConversations)
		r.Get("/conversations/{id}/messages", s.handleGetMessages)
		r.Post("/conversations/{id}/messages", s.handleSendMessage)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"message":   "Server is running",
		"version":   APIVersion,
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            APIVersion,
		"apiVersions":        []string{"v1"},
		"supportedPlatforms": []string{"web", "ios", "android", "tablet"},
	})
}
