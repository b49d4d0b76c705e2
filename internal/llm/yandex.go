package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const defaultCompletionEndpoint = "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"

type yandexGenerator struct {
	endpoint   string
	folderID   string
	credential string
	client     *http.Client
}

// NewYandexGenerator talks to the foundation models completion endpoint.
// credential is sent verbatim as the Authorization header.
func NewYandexGenerator(endpoint, folderID, credential string, client *http.Client) Generator {
	if endpoint == "" {
		endpoint = defaultCompletionEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &yandexGenerator{endpoint: endpoint, folderID: folderID, credential: credential, client: client}
}

// ModelURI expands a bare model name to gpt://<folder>/<model>/latest.
func ModelURI(folderID, model string) string {
	if strings.Contains(model, "://") {
		return model
	}
	if !strings.Contains(model, "/") {
		model += "/latest"
	}
	return "gpt://" + folderID + "/" + model
}

type yandexRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []yandexMessage   `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens,omitempty"`
}

type yandexMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type yandexResponse struct {
	Result struct {
		Alternatives []struct {
			Message yandexMessage `json:"message"`
			Status  string        `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
		} `json:"usage"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

func (g *yandexGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	payload := yandexRequest{
		ModelURI: ModelURI(g.folderID, req.Model),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: req.Temperature,
		},
		Messages: []yandexMessage{{Role: req.Role, Text: req.Prompt}},
	}
	if req.MaxTokens > 0 {
		payload.CompletionOptions.MaxTokens = strconv.Itoa(req.MaxTokens)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", g.credential)
	if g.folderID != "" {
		httpReq.Header.Set("x-folder-id", g.folderID)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Completion{}, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Result.Alternatives) == 0 {
		return Completion{}, fmt.Errorf("completion response has no alternatives")
	}
	promptTokens, _ := strconv.Atoi(out.Result.Usage.InputTextTokens)
	completionTokens, _ := strconv.Atoi(out.Result.Usage.CompletionTokens)
	return Completion{
		Text:             out.Result.Alternatives[0].Message.Text,
		Model:            req.Model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          time.Since(start),
	}, nil
}
