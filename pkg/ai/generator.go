package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DefaultGeminiModel = "gemini-1.5-flash"
	DefaultOllamaModel = "llama3.1"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Config selects and configures a provider.
type Config struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OllamaURL     string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	HTTPClient    *http.Client
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// NewGenerator builds the generator for cfg.Provider (gemini when empty).
func NewGenerator(cfg Config) (TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", ProviderGemini:
		return NewGeminiGenerator(cfg.GeminiAPIKey, orDefault(cfg.Model, DefaultGeminiModel), cfg.HTTPClient)
	case ProviderOllama:
		return NewOllamaGenerator(cfg.OllamaURL, orDefault(cfg.Model, DefaultOllamaModel), cfg.HTTPClient), nil
	case ProviderOpenAI:
		return NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, orDefault(cfg.Model, DefaultOpenAIModel), cfg.HTTPClient)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func httpClientOr(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: timeout}
}
