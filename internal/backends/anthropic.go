package backends

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/arcana/api/internal/models"
)

const (
	anthropicURL     = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the Messages API over plain HTTP
type Anthropic struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// NewAnthropic creates the Anthropic backend. baseURL may be empty.
func NewAnthropic(apiKey, model, baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicURL
	}
	return &Anthropic{
		apiKey:    apiKey,
		model:     model,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxTokens: 2048,
		client:    &http.Client{},
	}
}

func (a *Anthropic) ID() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (a *Anthropic) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedArtifact, error) {
	start := time.Now()

	var out anthropicResponse
	err := postJSON(ctx, a.client, a.ID(), a.baseURL+"/v1/messages", map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}, anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: BuildPrompt(req)}},
	}, &out)
	if err != nil {
		return models.GeneratedArtifact{}, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return models.GeneratedArtifact{}, transient(a.ID(), errors.New("empty completion"))
	}

	return models.GeneratedArtifact{
		BackendID: a.ID(),
		Model:     out.Model,
		Text:      text.String(),
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
