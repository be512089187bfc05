package judge

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
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrJudgeUnavailable covers every judge failure: transport, timeout, bad JSON, out-of-range scores
var ErrJudgeUnavailable = errors.New("judge unavailable")

// Request is everything the judge sees for one artifact
type Request struct {
	RequestID     string
	Text          string
	Elements      []models.Element
	UserContext   string
	Metrics       models.StructuralMetrics
	PromptVersion string
}

// Client scores a generated artifact
type Client interface {
	Evaluate(ctx context.Context, req Request) (models.EvaluationResult, error)
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrJudgeUnavailable, fmt.Sprintf(format, args...))
}

// HTTPJudge calls the AI service evaluation endpoint
type HTTPJudge struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPJudge creates a judge backed by POST {baseURL}/evaluate
func NewHTTPJudge(baseURL, model string, timeout time.Duration, logger *zap.Logger) *HTTPJudge {
	return &HTTPJudge{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type evaluateRequest struct {
	RequestID     string                   `json:"request_id"`
	Model         string                   `json:"model"`
	PromptVersion string                   `json:"prompt_version"`
	Prompt        string                   `json:"prompt"`
	Reading       string                   `json:"reading"`
	Elements      []models.Element         `json:"elements"`
	Metrics       models.StructuralMetrics `json:"metrics"`
}

func (j *HTTPJudge) Evaluate(ctx context.Context, req Request) (models.EvaluationResult, error) {
	body, err := json.Marshal(evaluateRequest{
		RequestID:     req.RequestID,
		Model:         j.model,
		PromptVersion: req.PromptVersion,
		Prompt:        BuildPrompt(req),
		Reading:       req.Text,
		Elements:      req.Elements,
		Metrics:       req.Metrics,
	})
	if err != nil {
		return models.EvaluationResult{}, fmt.Errorf("failed to encode judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return models.EvaluationResult{}, unavailable("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return models.EvaluationResult{}, unavailable("call failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.EvaluationResult{}, unavailable("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.EvaluationResult{}, unavailable("status %d", resp.StatusCode)
	}

	result, err := ParseResponse(raw)
	if err != nil {
		j.logger.Warn("judge returned unusable response",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return models.EvaluationResult{}, err
	}
	result.PromptVersion = req.PromptVersion
	return result, nil
}

// LLMJudge asks an OpenAI-compatible chat model directly, in JSON mode
type LLMJudge struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewLLMJudge creates a judge over the OpenAI chat completions API.
// baseURL may be empty to use the public endpoint.
func NewLLMJudge(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *LLMJudge {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMJudge{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

func (j *LLMJudge) Evaluate(ctx context.Context, req Request) (models.EvaluationResult, error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.EvaluationResult{}, unavailable("chat completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return models.EvaluationResult{}, unavailable("no choices returned")
	}

	result, err := ParseResponse([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		j.logger.Warn("judge returned unusable response",
			zap.String("request_id", req.RequestID),
			zap.String("model", j.model),
			zap.Error(err),
		)
		return models.EvaluationResult{}, err
	}
	result.PromptVersion = req.PromptVersion
	return result, nil
}
