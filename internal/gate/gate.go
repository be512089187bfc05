package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/judge"
	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/safety"
	"go.uber.org/zap"
)

// Outcome reasons
const (
	ReasonPassed                 = "passed"
	ReasonQualityBelowThreshold  = "quality_below_threshold"
	ReasonSafetyFlagged          = "safety_flagged"
	ReasonJudgeUnavailableOpen   = "judge_unavailable_fail_open"
	ReasonJudgeUnavailableClosed = "judge_unavailable_fail_closed"
	ReasonCrisisShortCircuit     = "crisis_short_circuit"
	ReasonGateDisabled           = "gate_disabled"
)

// BlockedFallbackText replaces an artifact the gate refused to deliver
const BlockedFallbackText = `We weren't able to put together a reading for this spread that meets our standards this time.
Your cards are still worth sitting with: take a moment to notice which image pulls at you first, and what it brings to mind.
You're welcome to try again in a little while.`

// Input is one artifact to evaluate
type Input struct {
	Request  models.GenerationRequest
	Artifact models.GeneratedArtifact
	Metrics  models.StructuralMetrics
}

// Gate runs the safety precheck, the judge call with heuristic fallback, and the decision.
// All policy comes from the GateConfig it was built with.
type Gate struct {
	cfg      config.GateConfig
	judge    judge.Client
	scorer   *safety.Scorer
	precheck *safety.Precheck
	logger   *zap.Logger
}

// New creates a gate. judgeClient may be nil, which behaves like an unreachable judge.
func New(cfg config.GateConfig, judgeClient judge.Client, catalog *safety.Catalog, logger *zap.Logger) *Gate {
	g := &Gate{
		cfg:      cfg,
		judge:    judgeClient,
		precheck: safety.NewPrecheck(catalog),
		logger:   logger,
	}
	if cfg.HeuristicFallback {
		g.scorer = safety.NewScorer(catalog)
	}
	return g
}

// Config returns the policy the gate was built with
func (g *Gate) Config() config.GateConfig {
	return g.cfg
}

// Precheck inspects user context before generation. When it triggers, the returned
// outcome carries the fixed safe-fallback text and no evaluation.
func (g *Gate) Precheck(userContext string) (models.GateOutcome, bool) {
	if !g.precheck.Triggered(userContext) {
		return models.GateOutcome{}, false
	}
	return models.GateOutcome{
		Passed:        false,
		Reason:        ReasonCrisisShortCircuit,
		SafeFallback:  true,
		DeliveredText: g.precheck.FallbackMessage(),
	}, true
}

// Evaluate scores the artifact and decides whether it is delivered
func (g *Gate) Evaluate(ctx context.Context, in Input) models.GateOutcome {
	if !g.cfg.Enabled {
		return g.pass(ReasonGateDisabled, nil, in.Artifact.Text)
	}

	result, err := g.callJudge(ctx, in)
	if err == nil {
		return g.decideJudge(result, in)
	}

	g.logger.Warn("judge unavailable, falling back",
		zap.String("request_id", in.Request.RequestID),
		zap.String("failure_mode", string(g.cfg.FailureMode)),
		zap.Bool("heuristic_fallback", g.scorer != nil),
		zap.Error(err),
	)

	if g.scorer == nil {
		policy := &models.EvaluationResult{
			Source:        models.SourcePolicy,
			Issues:        []string{},
			Notes:         "judge unavailable and heuristic fallback disabled",
			PromptVersion: g.cfg.PromptVersion,
		}
		if g.cfg.FailureMode == config.FailClosed {
			return g.block(ReasonJudgeUnavailableClosed, policy)
		}
		return g.pass(ReasonJudgeUnavailableOpen, policy, in.Artifact.Text)
	}

	heuristic := g.scorer.Score(in.Artifact.Text, in.Metrics)
	heuristic.PromptVersion = g.cfg.PromptVersion
	return g.decideHeuristic(heuristic, in)
}

func (g *Gate) callJudge(ctx context.Context, in Input) (models.EvaluationResult, error) {
	if g.judge == nil {
		return models.EvaluationResult{}, fmt.Errorf("%w: no judge configured", judge.ErrJudgeUnavailable)
	}

	if g.cfg.JudgeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.JudgeTimeout)
		defer cancel()
	}

	result, err := g.judge.Evaluate(ctx, judge.Request{
		RequestID:     in.Request.RequestID,
		Text:          in.Artifact.Text,
		Elements:      in.Request.Elements,
		UserContext:   in.Request.UserContext,
		Metrics:       in.Metrics,
		PromptVersion: g.cfg.PromptVersion,
	})
	if err != nil && !errors.Is(err, judge.ErrJudgeUnavailable) {
		err = fmt.Errorf("%w: %v", judge.ErrJudgeUnavailable, err)
	}
	return result, err
}

func (g *Gate) decideJudge(result models.EvaluationResult, in Input) models.GateOutcome {
	if result.PromptVersion == "" {
		result.PromptVersion = g.cfg.PromptVersion
	}
	switch {
	case result.SafetyFlag:
		return g.block(ReasonSafetyFlagged, &result)
	case result.Overall < g.cfg.MinOverall:
		return g.block(ReasonQualityBelowThreshold, &result)
	default:
		return g.pass(ReasonPassed, &result, in.Artifact.Text)
	}
}

// decideHeuristic applies the failure mode; a heuristic safety flag blocks under either mode
func (g *Gate) decideHeuristic(result models.EvaluationResult, in Input) models.GateOutcome {
	switch {
	case result.SafetyFlag:
		return g.block(ReasonSafetyFlagged, &result)
	case g.cfg.FailureMode == config.FailClosed:
		return g.block(ReasonJudgeUnavailableClosed, &result)
	case result.Overall < g.cfg.MinOverall:
		return g.block(ReasonQualityBelowThreshold, &result)
	default:
		return g.pass(ReasonJudgeUnavailableOpen, &result, in.Artifact.Text)
	}
}

func (g *Gate) pass(reason string, eval *models.EvaluationResult, text string) models.GateOutcome {
	return models.GateOutcome{
		Passed:        true,
		Reason:        reason,
		Evaluation:    eval,
		DeliveredText: text,
	}
}

func (g *Gate) block(reason string, eval *models.EvaluationResult) models.GateOutcome {
	return models.GateOutcome{
		Passed:        false,
		Reason:        reason,
		Evaluation:    eval,
		SafeFallback:  true,
		DeliveredText: BlockedFallbackText,
	}
}
