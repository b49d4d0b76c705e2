package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
)

// ErrUnknownModel is returned when a command alias has no configured model.
var ErrUnknownModel = errors.New("unknown model alias")

// Request describes a single completion prompt.
type Request struct {
	Model       string
	Role        string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the model's answer.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable completion backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Completion, error)
}

// APIError is a non-2xx answer from a completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion request failed: status %d: %s", e.StatusCode, e.Body)
}

// RequestFromConfig resolves alias (the bot command without the slash) to a
// model and fills sampling defaults from cfg.
func RequestFromConfig(cfg config.LLMConfig, alias, prompt string) (Request, error) {
	model, ok := cfg.Models[strings.TrimPrefix(alias, "/")]
	if !ok || model == "" {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownModel, alias)
	}
	role := cfg.Role
	if role == "" {
		role = "system"
	}
	return Request{
		Model:       model,
		Role:        role,
		Prompt:      prompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, nil
}

// New builds the generator selected by cfg.Mode.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "yandex":
		return NewYandexGenerator(cfg.Endpoint, cfg.FolderID, cfg.Credential, nil), nil
	case "openai":
		return NewOpenAIGenerator(cfg.Endpoint, bareToken(cfg.Credential)), nil
	case "gemini":
		return NewGeminiGenerator(ctx, bareToken(cfg.Credential))
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

// bareToken strips an "Api-Key " or "Bearer " scheme from a credential.
func bareToken(credential string) string {
	if _, token, ok := strings.Cut(strings.TrimSpace(credential), " "); ok {
		return strings.TrimSpace(token)
	}
	return credential
}
