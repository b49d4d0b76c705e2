package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openaiGenerator serves OpenAI-compatible chat completion endpoints,
// including the compatibility layer of the foundation models API.
type openaiGenerator struct {
	client openai.Client
}

func NewOpenAIGenerator(baseURL, apiKey string) Generator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiGenerator{client: openai.NewClient(opts...)}
}

func (g *openaiGenerator) Generate(ctx context.Context, req Request) (Completion, error) {
	var msg openai.ChatCompletionMessageParamUnion
	if req.Role == "user" {
		msg = openai.UserMessage(req.Prompt)
	} else {
		msg = openai.SystemMessage(req.Prompt)
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    []openai.ChatCompletionMessageParamUnion{msg},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai completion returned no choices")
	}
	return Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Latency:          time.Since(start),
	}, nil
}
