package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator generates text with a local Ollama server via /api/chat.
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaGenerator builds an Ollama-based TextGenerator.
func NewOllamaGenerator(baseURL, model string, httpClient *http.Client) *OllamaGenerator {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaGenerator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      strings.TrimSpace(model),
		httpClient: httpClientOr(httpClient, 120*time.Second),
	}
}

// GenerateText implements TextGenerator using Ollama /api/chat.
func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(ollamaChatRequest{Model: g.model, Messages: messages, Stream: false})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", &APIError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: msg}
	}
	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("ollama decode: %w", err)
	}
	if strings.TrimSpace(chatResp.Message.Content) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return chatResp.Message.Content, nil
}

// chatMessage is shared by the Ollama and OpenAI chat formats.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
