package app

import (
	"errors"
	"time"

	"studiumai/internal/mail"
	"studiumai/internal/storage"
	"studiumai/internal/store"
	"studiumai/pkg/ai"
	"studiumai/pkg/auth"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	DefaultMaxSourceChars = 200_000
	defaultExtractWorkers = 4
)

// Config holds the collaborators and limits of the core application.
type Config struct {
	Store     store.Store
	Blobs     storage.BlobStore
	Tokens    *auth.TokenManager
	Generator ai.TextGenerator
	// Mailer defaults to mail.LogMailer.
	Mailer      mail.Mailer
	FrontendURL string
	// MaxUploadBytes defaults to 10MB.
	MaxUploadBytes int64
	// MaxSourceChars caps extracted text per source; defaults to 200k.
	MaxSourceChars int
	ExtractWorkers int
	Now            func() time.Time
}

// App is the core application service wiring persistence, blobs, tokens,
// mail and text generation together.
type App struct {
	store          store.Store
	blobs          storage.BlobStore
	tokens         *auth.TokenManager
	generator      ai.TextGenerator
	mailer         mail.Mailer
	frontendURL    string
	maxUploadBytes int64
	maxSourceChars int
	extractWorkers int
	now            func() time.Time
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("text generator required")
	}
	if cfg.Mailer == nil {
		cfg.Mailer = mail.LogMailer{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.MaxSourceChars <= 0 {
		cfg.MaxSourceChars = DefaultMaxSourceChars
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = defaultExtractWorkers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		tokens:         cfg.Tokens,
		generator:      cfg.Generator,
		mailer:         cfg.Mailer,
		frontendURL:    cfg.FrontendURL,
		maxUploadBytes: cfg.MaxUploadBytes,
		maxSourceChars: cfg.MaxSourceChars,
		extractWorkers: cfg.ExtractWorkers,
		now:            cfg.Now,
	}, nil
}

// MaxUploadBytes is the upload cap the HTTP layer enforces while reading bodies.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

func (a *App) timestamp() time.Time {
	return a.now().UTC()
}
