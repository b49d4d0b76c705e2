// Package art generates images from text prompts.
package art

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
)

var (
	// ErrPending is matched while a generation operation is still running.
	ErrPending = errors.New("image generation pending")
	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("image prompt is empty")
)

// Image is a generated picture.
type Image struct {
	Data        []byte
	MIMEType    string
	Seed        int64
	OperationID string
}

// Generator turns a prompt into an image.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Image, error)
}

// OperationError is the error an operation finished with.
type OperationError struct {
	OperationID string
	Code        int
	Message     string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("image operation %s failed: code %d: %s", e.OperationID, e.Code, e.Message)
}

// APIError is a non-2xx HTTP answer.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("image request failed: status %d: %s", e.StatusCode, e.Body)
}

// RandomSeed returns a non-negative 63-bit seed.
func RandomSeed() int64 {
	return int64(rand.Uint64() >> 1)
}

// New builds the generator selected by cfg.Mode.
func New(cfg config.ArtConfig, logger *slog.Logger) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "yandex":
		return NewYandexGenerator(Options{
			Endpoint:           cfg.Endpoint,
			OperationsEndpoint: cfg.OperationsEndpoint,
			FolderID:           cfg.FolderID,
			Credential:         cfg.Credential,
			Model:              cfg.Model,
			WidthRatio:         cfg.WidthRatio,
			HeightRatio:        cfg.HeightRatio,
			MaxAttempts:        cfg.MaxAttempts,
			PollInterval:       time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			HTTPClient:         &http.Client{Timeout: 60 * time.Second},
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported art mode %q", cfg.Mode)
	}
}
