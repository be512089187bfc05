package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arcana/api/internal/models"
	"google.golang.org/genai"
)

// Gemini generates readings through the Google GenAI SDK
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini backend. baseURL may be empty to use the public endpoint.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) ID() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedArtifact, error) {
	start := time.Now()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return models.GeneratedArtifact{}, fromStatus(g.ID(), apiErr.Code, err)
		}
		return models.GeneratedArtifact{}, fromTransport(ctx, g.ID(), err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return models.GeneratedArtifact{}, transient(g.ID(), errors.New("empty completion"))
	}

	return models.GeneratedArtifact{
		BackendID: g.ID(),
		Model:     g.model,
		Text:      text,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
