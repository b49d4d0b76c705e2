package art

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Gennadynemchin/AssistantBot/internal/retry"
	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
)

const (
	defaultEndpoint           = "https://llm.api.cloud.yandex.net/foundationModels/v1/imageGenerationAsync"
	defaultOperationsEndpoint = "https://llm.api.cloud.yandex.net/operations"
)

// Options configures the foundation models image generator.
type Options struct {
	Endpoint           string
	OperationsEndpoint string
	FolderID           string
	Credential         string
	Model              string
	WidthRatio         int
	HeightRatio        int
	MaxAttempts        int
	PollInterval       time.Duration
	HTTPClient         *http.Client
	// Seed overrides RandomSeed.
	Seed func() int64
}

type yandexGenerator struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

func NewYandexGenerator(opts Options, logger *slog.Logger) Generator {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.OperationsEndpoint == "" {
		opts.OperationsEndpoint = defaultOperationsEndpoint
	}
	if opts.Model == "" {
		opts.Model = "yandex-art"
	}
	if opts.WidthRatio <= 0 {
		opts.WidthRatio = 1
	}
	if opts.HeightRatio <= 0 {
		opts.HeightRatio = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 60
	}
	if opts.Seed == nil {
		opts.Seed = RandomSeed
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &yandexGenerator{opts: opts, client: client, logger: logger.With(slog.String("component", "art"))}
}

type generationRequest struct {
	ModelURI          string            `json:"modelUri"`
	GenerationOptions generationOptions `json:"generationOptions"`
	Messages          []promptMessage   `json:"messages"`
}

type generationOptions struct {
	Seed        int64       `json:"seed,string"`
	AspectRatio aspectRatio `json:"aspectRatio"`
}

type aspectRatio struct {
	WidthRatio  int `json:"widthRatio,string"`
	HeightRatio int `json:"heightRatio,string"`
}

type promptMessage struct {
	Weight string `json:"weight"`
	Text   string `json:"text"`
}

type operation struct {
	ID       string `json:"id"`
	Done     bool   `json:"done"`
	Response *struct {
		Image        string `json:"image"`
		ModelVersion string `json:"modelVersion"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *yandexGenerator) modelURI() string {
	if strings.Contains(g.opts.Model, "://") {
		return g.opts.Model
	}
	return "art://" + g.opts.FolderID + "/" + g.opts.Model + "/latest"
}

func (g *yandexGenerator) Generate(ctx context.Context, prompt string) (Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return Image{}, ErrEmptyPrompt
	}
	seed := g.opts.Seed()
	op, err := g.submit(ctx, prompt, seed)
	if err != nil {
		return Image{}, err
	}
	g.logger.Info("image generation started", slog.String("operation_id", op.ID), slog.Int64("seed", seed))

	policy := retry.Policy{
		MaxAttempts: g.opts.MaxAttempts,
		Delay:       g.opts.PollInterval,
		Retryable:   func(err error) bool { return errors.Is(err, ErrPending) },
	}
	done, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (operation, error) {
		return g.fetch(ctx, op.ID)
	})
	if err != nil {
		return Image{}, err
	}
	if done.Error != nil {
		return Image{}, &OperationError{OperationID: op.ID, Code: done.Error.Code, Message: done.Error.Message}
	}
	if done.Response == nil || done.Response.Image == "" {
		return Image{}, fmt.Errorf("image operation %s finished without an image", op.ID)
	}
	data, err := base64.StdEncoding.DecodeString(done.Response.Image)
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	return Image{
		Data:        data,
		MIMEType:    mimetype.Detect(data).String(),
		Seed:        seed,
		OperationID: op.ID,
	}, nil
}

func (g *yandexGenerator) submit(ctx context.Context, prompt string, seed int64) (operation, error) {
	payload := generationRequest{
		ModelURI: g.modelURI(),
		GenerationOptions: generationOptions{
			Seed:        seed,
			AspectRatio: aspectRatio{WidthRatio: g.opts.WidthRatio, HeightRatio: g.opts.HeightRatio},
		},
		Messages: []promptMessage{{Weight: "1", Text: prompt}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return operation{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return operation{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", g.opts.Credential)

	var op operation
	if err := g.do(req, &op); err != nil {
		return operation{}, err
	}
	if op.ID == "" {
		return operation{}, fmt.Errorf("image generation response carries no operation id")
	}
	return op, nil
}

// fetch reads the operation once. A running operation yields ErrPending.
func (g *yandexGenerator) fetch(ctx context.Context, id string) (operation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.opts.OperationsEndpoint, "/")+"/"+id, nil)
	if err != nil {
		return operation{}, err
	}
	req.Header.Set("Authorization", g.opts.Credential)

	var op operation
	if err := g.do(req, &op); err != nil {
		return operation{}, err
	}
	if !op.Done {
		return operation{}, fmt.Errorf("operation %s: %w", id, ErrPending)
	}
	return op, nil
}

func (g *yandexGenerator) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode image response: %w", err)
	}
	return nil
}
