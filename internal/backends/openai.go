package backends

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arcana/api/internal/models"
	"github.com/sashabaranov/go-openai"
)

// OpenAI generates readings through the chat completions API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the OpenAI backend. baseURL may be empty to use the public endpoint.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (o *OpenAI) ID() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedArtifact, error) {
	start := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		Temperature: 0.8,
	})
	if err != nil {
		return models.GeneratedArtifact{}, o.classify(ctx, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return models.GeneratedArtifact{}, transient(o.ID(), errors.New("no choices returned"))
	}

	return models.GeneratedArtifact{
		BackendID: o.ID(),
		Model:     resp.Model,
		Text:      resp.Choices[0].Message.Content,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (o *OpenAI) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fromStatus(o.ID(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromStatus(o.ID(), reqErr.HTTPStatusCode, err)
	}
	return fromTransport(ctx, o.ID(), err)
}
