package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arcana/api/internal/models"
	"go.uber.org/zap"
)

// AIService calls the internal AI service's reading endpoint
type AIService struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewAIService creates the AI service backend
func NewAIService(baseURL string, logger *zap.Logger) *AIService {
	return &AIService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
}

func (a *AIService) ID() string { return "aiservice" }

type aiServiceRequest struct {
	RequestID           string           `json:"request_id"`
	TemplateKey         string           `json:"template_key"`
	Elements            []models.Element `json:"elements"`
	UserContext         string           `json:"user_context"`
	PriorContextSummary string           `json:"prior_context_summary,omitempty"`
	SystemPrompt        string           `json:"system_prompt"`
	Prompt              string           `json:"prompt"`
}

type aiServiceResponse struct {
	Text             string           `json:"text"`
	Sections         []models.Section `json:"sections"`
	DeclaredElements []string         `json:"declared_elements"`
	ModelID          string           `json:"model_id"`
}

func (a *AIService) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedArtifact, error) {
	start := time.Now()

	var out aiServiceResponse
	err := postJSON(ctx, a.client, a.ID(), a.baseURL+"/generate/reading", nil, aiServiceRequest{
		RequestID:           req.RequestID,
		TemplateKey:         req.TemplateKey,
		Elements:            req.Elements,
		UserContext:         req.UserContext,
		PriorContextSummary: req.PriorContextSummary,
		SystemPrompt:        systemPrompt,
		Prompt:              BuildPrompt(req),
	}, &out)
	if err != nil {
		return models.GeneratedArtifact{}, err
	}
	if strings.TrimSpace(out.Text) == "" {
		return models.GeneratedArtifact{}, transient(a.ID(), errors.New("empty reading text"))
	}

	return models.GeneratedArtifact{
		BackendID:        a.ID(),
		Model:            out.ModelID,
		Text:             out.Text,
		Sections:         out.Sections,
		DeclaredElements: out.DeclaredElements,
		LatencyMs:        time.Since(start).Milliseconds(),
	}, nil
}

// postJSON sends body as JSON and decodes a 200 response into out, classifying every failure
func postJSON(ctx context.Context, client *http.Client, backend, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return permanent(backend, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return permanent(backend, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fromTransport(ctx, backend, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fromTransport(ctx, backend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fromStatus(backend, resp.StatusCode, fmt.Errorf("unexpected response: %s", truncate(string(raw), 200)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return transient(backend, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
