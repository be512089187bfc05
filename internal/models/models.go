package models

import (
	"time"
)

// Element is one drawn card at a spread position
type Element struct {
	ID          string `json:"id" binding:"required"`
	Position    string `json:"position"`
	Orientation string `json:"orientation,omitempty"` // upright, reversed
}

// GenerationRequest is the immutable input of one reading
type GenerationRequest struct {
	RequestID           string    `json:"request_id"`
	RequesterID         string    `json:"requester_id"`
	Tier                string    `json:"tier"`
	TemplateKey         string    `json:"template_key"`
	Elements            []Element `json:"elements"`
	UserContext         string    `json:"user_context"`
	PriorContextSummary string    `json:"prior_context_summary,omitempty"`
	// KnownIdentifiers are names the requester supplied; telemetry redacts them
	KnownIdentifiers []string  `json:"known_identifiers,omitempty"`
	ReceivedAt       time.Time `json:"received_at"`
}

// ElementIDs returns the element identifiers in order
func ElementIDs(elements []Element) []string {
	ids := make([]string, 0, len(elements))
	for _, e := range elements {
		ids = append(ids, e.ID)
	}
	return ids
}

// ReservationState represents the lifecycle state of a quota reservation
type ReservationState string

const (
	ReservationReserved  ReservationState = "reserved"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Terminal reports whether the state is committed or released
func (s ReservationState) Terminal() bool {
	return s == ReservationCommitted || s == ReservationReleased
}

// Section is one parsed block of generated text
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// GeneratedArtifact is the raw output of one successful backend call
type GeneratedArtifact struct {
	BackendID        string    `json:"backend_id"`
	Model            string    `json:"model,omitempty"`
	Text             string    `json:"text"`
	Sections         []Section `json:"sections,omitempty"`
	DeclaredElements []string  `json:"declared_elements,omitempty"`
	LatencyMs        int64     `json:"latency_ms"`
}

// SectionBreakdown counts sections by classification
type SectionBreakdown struct {
	ElementBound int `json:"card_sections"`
	Structural   int `json:"structural_sections"`
}

// StructuralMetrics is derived from an artifact; never mutated in place
type StructuralMetrics struct {
	SectionBreakdown        SectionBreakdown `json:"section_breakdown"`
	CompleteElementSections int              `json:"complete_card_sections"`
	// ElementCoverageRatio is nil when there are no element-bound sections
	ElementCoverageRatio *float64 `json:"element_coverage_ratio"`
	HallucinatedElements []string `json:"hallucinated_elements"`
	MissingElements      []string `json:"missing_elements"`
	ReferencedElements   []string `json:"referenced_elements"`
}

// CoverageRatio returns the ratio and whether it is defined
func (m StructuralMetrics) CoverageRatio() (float64, bool) {
	if m.ElementCoverageRatio == nil {
		return 0, false
	}
	return *m.ElementCoverageRatio, true
}

// EvaluationSource identifies who produced an evaluation
type EvaluationSource string

const (
	SourceJudge     EvaluationSource = "judge"
	SourceHeuristic EvaluationSource = "heuristic"
	SourcePolicy    EvaluationSource = "policy"
)

// Scoring dimensions shared by the judge and the heuristic scorer
const (
	DimensionPersonalization = "personalization"
	DimensionCardAccuracy    = "card_accuracy"
	DimensionTone            = "tone"
	DimensionSafety          = "safety"
	DimensionStructure       = "structure"
)

// Dimensions lists every scoring dimension in report order
var Dimensions = []string{
	DimensionPersonalization,
	DimensionCardAccuracy,
	DimensionTone,
	DimensionSafety,
	DimensionStructure,
}

// NeutralScore is the calibration anchor for every dimension
const NeutralScore = 3

// EvaluationResult holds the scores for one artifact, whatever produced them
type EvaluationResult struct {
	Source          EvaluationSource `json:"source"`
	DimensionScores map[string]int   `json:"dimension_scores"`
	Overall         int              `json:"overall"`
	SafetyFlag      bool             `json:"safety_flag"`
	Issues          []string         `json:"issues"`
	Notes           string           `json:"notes"`
	PromptVersion   string           `json:"prompt_version,omitempty"`
}

// GateOutcome is the terminal value of the evaluation gate
type GateOutcome struct {
	Passed        bool              `json:"passed"`
	Reason        string            `json:"reason"`
	Evaluation    *EvaluationResult `json:"evaluation,omitempty"`
	SafeFallback  bool              `json:"safe_fallback"`
	DeliveredText string            `json:"delivered_text"`
}

// DispositionStatus is the outbound status of a reading request
type DispositionStatus string

const (
	StatusDelivered           DispositionStatus = "delivered"
	StatusSafeFallback        DispositionStatus = "safe_fallback"
	StatusRejectedQuota       DispositionStatus = "rejected_quota"
	StatusRejectedUnavailable DispositionStatus = "rejected_unavailable"
)

// Usage reports quota consumption for one requester and period
type Usage struct {
	PeriodKey string `json:"period_key"`
	Committed int    `json:"committed"`
	Reserved  int    `json:"reserved"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Disposition is returned to the caller for every request
type Disposition struct {
	RequestID        string             `json:"request_id"`
	Status           DispositionStatus  `json:"status"`
	Reason           string             `json:"reason,omitempty"`
	ArtifactText     string             `json:"artifact_text,omitempty"`
	BackendID        string             `json:"backend_id,omitempty"`
	Evaluation       *EvaluationResult  `json:"evaluation,omitempty"`
	Metrics          *StructuralMetrics `json:"metrics,omitempty"`
	ReservationState ReservationState   `json:"reservation_state,omitempty"`
	Usage            *Usage             `json:"usage,omitempty"`
}

// BackendAttempt summarizes one backend call for telemetry
type BackendAttempt struct {
	BackendID string `json:"backend_id"`
	Attempt   int    `json:"attempt"`
	Status    string `json:"status"` // success, transient, permanent
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}
