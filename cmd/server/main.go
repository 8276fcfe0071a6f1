package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	gobreaker "github.com/sony/gobreaker/v2"

	"studiumai/internal/app"
	"studiumai/internal/config"
	"studiumai/internal/mail"
	"studiumai/internal/metrics"
	"studiumai/internal/security"
	"studiumai/internal/server"
	"studiumai/internal/storage"
	"studiumai/internal/store"
	"studiumai/internal/util"
	"studiumai/pkg/ai"
	"studiumai/pkg/auth"
	"studiumai/pkg/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFmt)
	if cfg.UsesDevSecret() {
		logger.Warn("using default JWT secret; set JWT_SECRET outside development")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	jwtTTL, err := config.ParseDuration("jwtTTL", cfg.JWTTTL)
	if err != nil {
		return err
	}
	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		return err
	}
	aiTimeout, err := config.ParseDuration("aiTimeout", cfg.AITimeout)
	if err != nil {
		return err
	}
	if aiTimeout == 0 {
		aiTimeout = 60 * time.Second
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	blobs, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	generator, err := newGenerator(cfg, aiTimeout)
	if err != nil {
		return err
	}

	var revoker auth.TokenRevoker = auth.NewMemoryTokenRevoker()
	if cfg.RedisAddr != "" {
		revoker = auth.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, "studium:revoked")
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:  cfg.JWTSecret,
		TTL:     jwtTTL,
		Issuer:  "studium-ai",
		Leeway:  jwtLeeway,
		Revoker: revoker,
	})
	if err != nil {
		return fmt.Errorf("init tokens: %w", err)
	}

	mailer, stopMail, err := newMailer(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopMail()

	appCore, err := app.New(app.Config{
		Store:          db,
		Blobs:          blobs,
		Tokens:         tokens,
		Generator:      generator,
		Mailer:         mailer,
		FrontendURL:    cfg.FrontendURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxSourceChars: cfg.MaxSourceChars,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	alerter := security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "studium:alerts")
	defer alerter.Close()

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Env:                        cfg.Env,
		CORSAllowedOrigins:         cfg.CORSAllowedOrigins,
		MinAppVersion:              cfg.MinAppVersion,
		TrustedProxies:             trusted,
		Alerter:                    alerter,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		APIRateLimitPerMinute:      cfg.APIRateLimitPerMinute,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		SigninRateLimitPerMinute:   cfg.SigninRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer httpServer.Close()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBlobStore(cfg config.FileConfig) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case "minio":
		blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return blobs, nil
	default:
		blobs, err := storage.NewFileStore(cfg.UploadDir)
		if err != nil {
			return nil, fmt.Errorf("init file storage: %w", err)
		}
		return blobs, nil
	}
}

func newGenerator(cfg config.FileConfig, timeout time.Duration) (ai.TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.AIProvider))
	if provider == "" {
		provider = ai.ProviderGemini
	}
	base, err := ai.NewGenerator(ai.Config{
		Provider:      provider,
		Model:         cfg.AIModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaURL:     cfg.OllamaURL,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init ai provider: %w", err)
	}
	metrics.AIBreakerState.WithLabelValues(provider).Set(float64(gobreaker.StateClosed))
	return ai.NewGuardedGenerator(base, ai.BreakerConfig{
		Name:    provider,
		Timeout: timeout,
		OnResult: func(result string, elapsed time.Duration) {
			metrics.RecordGeneration(provider, result, elapsed)
		},
		OnStateChange: func(from, to gobreaker.State) {
			metrics.AIBreakerState.WithLabelValues(provider).Set(float64(to))
			slog.Warn("ai_breaker_state_changed", "provider", provider, "from", from.String(), "to", to.String())
		},
	}), nil
}

// newMailer picks SMTP when credentials exist and optionally routes sends
// through a queue whose consumers run until ctx ends.
func newMailer(ctx context.Context, cfg config.FileConfig) (mail.Mailer, func(), error) {
	var base mail.Mailer = mail.LogMailer{}
	if cfg.EmailUser != "" && cfg.EmailPassword != "" {
		smtpMailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.EmailHost,
			Port:     cfg.EmailPort,
			User:     cfg.EmailUser,
			Password: cfg.EmailPassword,
			From:     cfg.EmailFrom,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init smtp: %w", err)
		}
		base = smtpMailer
	}

	var q queue.Queue
	switch cfg.MailQueue {
	case "":
		return base, func() {}, nil
	case "redis":
		rq, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   "studium:mail",
			Group:    "mailers",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis mail queue: %w", err)
		}
		q = rq
	case "amqp":
		aq, err := queue.NewAMQPQueue(queue.AMQPQueueConfig{
			URL:   cfg.AMQPURL,
			Queue: "studium.mail",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init amqp mail queue: %w", err)
		}
		q = aq
	default:
		return nil, nil, fmt.Errorf("unknown mail queue %q", cfg.MailQueue)
	}

	workers := cfg.MailWorkers
	if workers <= 0 {
		workers = 1
	}
	q.Start(ctx, workers, mail.JobHandler(base))
	slog.Info("mail queue started", "transport", cfg.MailQueue, "workers", workers)
	return mail.NewQueuedMailer(q, cfg.MailQueue), func() { _ = q.Close() }, nil
}
