package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/redact"
	"go.uber.org/zap"
)

const excerptLength = 160

// Excerpt is a short, redacted slice of one generated section
type Excerpt struct {
	Heading string `json:"heading"`
	Kind    string `json:"kind"`
	Text    string `json:"text"`
}

// Record is the write-once telemetry document for one reading request
type Record struct {
	RequestID        string                    `json:"request_id"`
	RequesterID      string                    `json:"requester_id"`
	PeriodKey        string                    `json:"period_key"`
	TemplateKey      string                    `json:"template_key"`
	BackendID        string                    `json:"backend_id,omitempty"`
	Model            string                    `json:"model,omitempty"`
	Attempts         []models.BackendAttempt   `json:"attempts"`
	Metrics          *models.StructuralMetrics `json:"metrics,omitempty"`
	Evaluation       *models.EvaluationResult  `json:"evaluation,omitempty"`
	Excerpts         []Excerpt                 `json:"excerpts,omitempty"`
	Status           models.DispositionStatus  `json:"status"`
	Reason           string                    `json:"reason"`
	ReservationState models.ReservationState   `json:"reservation_state"`
	PromptVersion    string                    `json:"prompt_version"`
	DurationMs       int64                     `json:"duration_ms"`
	CreatedAt        time.Time                 `json:"created_at"`

	Hash      string `json:"hash,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// NewExcerpt trims a section body to a short excerpt
func NewExcerpt(heading, kind, body string) Excerpt {
	r := []rune(body)
	if len(r) > excerptLength {
		body = string(r[:excerptLength]) + "…"
	}
	return Excerpt{Heading: heading, Kind: kind, Text: body}
}

// Redacted returns a copy with every free-text field passed through r
func (rec Record) Redacted(r *redact.Redactor) Record {
	out := rec

	if rec.Evaluation != nil {
		eval := *rec.Evaluation
		eval.Notes = r.String(eval.Notes)
		eval.Issues = r.Strings(eval.Issues)
		if rec.Evaluation.DimensionScores != nil {
			eval.DimensionScores = make(map[string]int, len(rec.Evaluation.DimensionScores))
			for k, v := range rec.Evaluation.DimensionScores {
				eval.DimensionScores[k] = v
			}
		}
		out.Evaluation = &eval
	}

	if rec.Attempts != nil {
		out.Attempts = make([]models.BackendAttempt, len(rec.Attempts))
		for i, a := range rec.Attempts {
			a.Error = r.String(a.Error)
			out.Attempts[i] = a
		}
	}

	if rec.Excerpts != nil {
		out.Excerpts = make([]Excerpt, len(rec.Excerpts))
		for i, e := range rec.Excerpts {
			out.Excerpts[i] = Excerpt{Heading: r.String(e.Heading), Kind: e.Kind, Text: r.String(e.Text)}
		}
	}

	return out
}

// Sink persists telemetry records
type Sink interface {
	Name() string
	Emit(ctx context.Context, rec Record) error
}

// MultiSink fans a record out to every sink and joins their errors
type MultiSink struct {
	sinks   []Sink
	metrics *Metrics
	logger  *zap.Logger
}

// NewMultiSink combines sinks; nil entries are skipped
func NewMultiSink(metrics *Metrics, logger *zap.Logger, sinks ...Sink) *MultiSink {
	m := &MultiSink{metrics: metrics, logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Name() string { return "multi" }

func (m *MultiSink) Emit(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, rec); err != nil {
			m.metrics.ObserveSinkFailure(s.Name())
			m.logger.Warn("telemetry sink failed",
				zap.String("sink", s.Name()),
				zap.String("request_id", rec.RequestID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes records as structured log lines
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(_ context.Context, rec Record) error {
	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.String("status", string(rec.Status)),
		zap.String("reason", rec.Reason),
		zap.String("backend_id", rec.BackendID),
		zap.String("reservation_state", string(rec.ReservationState)),
		zap.String("prompt_version", rec.PromptVersion),
		zap.Int("attempts", len(rec.Attempts)),
		zap.Int64("duration_ms", rec.DurationMs),
	}
	if rec.Evaluation != nil {
		fields = append(fields,
			zap.String("eval_source", string(rec.Evaluation.Source)),
			zap.Int("eval_overall", rec.Evaluation.Overall),
			zap.Bool("safety_flag", rec.Evaluation.SafetyFlag),
		)
	}
	if rec.Metrics != nil {
		if ratio, ok := rec.Metrics.CoverageRatio(); ok {
			fields = append(fields, zap.Float64("element_coverage_ratio", ratio))
		}
		fields = append(fields, zap.Strings("hallucinated_elements", rec.Metrics.HallucinatedElements))
	}
	s.logger.Info("reading telemetry", fields...)
	return nil
}
