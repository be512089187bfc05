package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arcana/api/internal/backends"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/gate"
	"github.com/arcana/api/internal/middleware"
	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/quota"
	"github.com/arcana/api/internal/redact"
	"github.com/arcana/api/internal/structure"
	"github.com/arcana/api/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// AllBackendsFailedError is returned when no backend produced an artifact
type AllBackendsFailedError struct {
	Attempts []models.BackendAttempt
	Errs     []error
}

func (e *AllBackendsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.BackendID, a.Status))
	}
	return "all generation backends failed (" + strings.Join(parts, ", ") + ")"
}

func (e *AllBackendsFailedError) Unwrap() []error {
	return e.Errs
}

// Options wires the orchestrator's collaborators
type Options struct {
	Quota    *quota.Manager
	Limits   config.QuotaConfig
	Backends []backends.Backend
	// AttemptTimeout bounds each backend call; zero means no per-attempt bound
	AttemptTimeout   time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	Gate             *gate.Gate
	Sink             telemetry.Sink
	Signer           *telemetry.Signer
	Metrics          *telemetry.Metrics
	Logger           *zap.Logger
}

// Orchestrator runs one reading request end to end
type Orchestrator struct {
	quota          *quota.Manager
	limits         config.QuotaConfig
	backends       []backends.Backend
	breakers       map[string]*middleware.CircuitBreaker
	attemptTimeout time.Duration
	gate           *gate.Gate
	sink           telemetry.Sink
	signer         *telemetry.Signer
	metrics        *telemetry.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

// New creates an orchestrator with one circuit breaker per backend
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Limits.ResolveTimeout <= 0 {
		opts.Limits.ResolveTimeout = 5 * time.Second
	}

	o := &Orchestrator{
		quota:          opts.Quota,
		limits:         opts.Limits,
		backends:       opts.Backends,
		breakers:       make(map[string]*middleware.CircuitBreaker, len(opts.Backends)),
		attemptTimeout: opts.AttemptTimeout,
		gate:           opts.Gate,
		sink:           opts.Sink,
		signer:         opts.Signer,
		metrics:        opts.Metrics,
		logger:         logger,
		now:            time.Now,
	}

	for _, b := range opts.Backends {
		cb := middleware.NewCircuitBreaker()
		if opts.BreakerThreshold > 0 {
			cb.FailureThreshold = opts.BreakerThreshold
		}
		if opts.BreakerTimeout > 0 {
			cb.Timeout = opts.BreakerTimeout
		}
		id := b.ID()
		cb.OnStateChange = func(from, to middleware.CircuitState) {
			logger.Warn("backend circuit changed",
				zap.String("backend", id),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
		o.breakers[id] = cb
	}
	return o
}

// Breakers returns the per-backend circuit breakers in priority order
func (o *Orchestrator) Breakers() []*middleware.CircuitBreaker {
	out := make([]*middleware.CircuitBreaker, 0, len(o.backends))
	for _, b := range o.backends {
		out = append(out, o.breakers[b.ID()])
	}
	return out
}

// run carries the per-request state that ends up in telemetry
type run struct {
	req         models.GenerationRequest
	started     time.Time
	reservation *quota.Reservation
	attempts    []models.BackendAttempt
	artifact    *models.GeneratedArtifact
	analysis    *structure.Analysis
	outcome     *models.GateOutcome
}

// Run executes the pipeline. The disposition is always populated; the error is
// non-nil only for quota rejections and when every backend failed.
func (o *Orchestrator) Run(ctx context.Context, req models.GenerationRequest) (disp models.Disposition, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reading.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("request.template", req.TemplateKey),
		attribute.Int("request.elements", len(req.Elements)),
	)

	r := &run{req: req, started: o.now()}
	if req.ReceivedAt.IsZero() {
		r.req.ReceivedAt = r.started
	}

	periodKey := quota.PeriodKey(r.req.ReceivedAt)
	limit := o.limits.LimitFor(req.Tier)

	reservation, err := o.quota.Reserve(ctx, req.RequesterID, periodKey, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return o.finish(ctx, r, models.StatusRejectedQuota, "quota_exceeded", periodKey), err
		}
		return o.finish(ctx, r, models.StatusRejectedUnavailable, "quota_store_unavailable", periodKey), err
	}
	r.reservation = reservation
	o.metrics.ObserveReservation(string(models.ReservationReserved))

	// nothing may leave the reservation outstanding, including a panic
	defer func() {
		if !reservation.State().Terminal() {
			o.logger.Warn("releasing unresolved reservation",
				zap.String("request_id", req.RequestID),
			)
			o.resolve(ctx, r, false)
		}
	}()

	if outcome, triggered := o.gate.Precheck(req.UserContext); triggered {
		r.outcome = &outcome
		o.metrics.ObserveGate("precheck", outcome.Reason)
		o.resolve(ctx, r, o.limits.CrisisCommitsReservation)
		return o.finish(ctx, r, models.StatusSafeFallback, outcome.Reason, periodKey), nil
	}

	artifact, err := o.generate(ctx, r)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		o.resolve(ctx, r, false)
		return o.finish(ctx, r, models.StatusRejectedUnavailable, "all_backends_failed", periodKey), err
	}
	r.artifact = &artifact

	analysis := structure.Analyze(artifact, req.Elements)
	r.analysis = &analysis

	gateCtx, gateSpan := telemetry.Tracer().Start(ctx, "reading.gate")
	outcome := o.gate.Evaluate(gateCtx, gate.Input{Request: r.req, Artifact: artifact, Metrics: analysis.Metrics})
	gateSpan.SetAttributes(attribute.String("gate.reason", outcome.Reason), attribute.Bool("gate.passed", outcome.Passed))
	gateSpan.End()
	r.outcome = &outcome

	source := "none"
	if outcome.Evaluation != nil {
		source = string(outcome.Evaluation.Source)
	}
	o.metrics.ObserveGate(source, outcome.Reason)

	// every gate outcome consumes the unit
	o.resolve(ctx, r, true)

	status := models.StatusDelivered
	if !outcome.Passed {
		status = models.StatusSafeFallback
	}
	return o.finish(ctx, r, status, outcome.Reason, periodKey), nil
}

// generate tries backends in priority order and stops at the first success
func (o *Orchestrator) generate(ctx context.Context, r *run) (models.GeneratedArtifact, error) {
	var errs []error

	for i, b := range o.backends {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		id := b.ID()
		start := o.now()
		var artifact models.GeneratedArtifact

		err := o.breakers[id].Call(func() error {
			var genErr error
			artifact, genErr = o.attempt(ctx, b, r.req)
			return genErr
		}, func(error) bool {
			// a caller hanging up says nothing about the backend
			return ctx.Err() == nil
		})

		latency := o.now().Sub(start)
		attempt := models.BackendAttempt{
			BackendID: id,
			Attempt:   i + 1,
			LatencyMs: latency.Milliseconds(),
		}

		if err == nil {
			attempt.Status = "success"
			r.attempts = append(r.attempts, attempt)
			o.metrics.ObserveBackend(id, attempt.Status, latency)
			if artifact.BackendID == "" {
				artifact.BackendID = id
			}
			return artifact, nil
		}

		if errors.Is(err, middleware.ErrCircuitOpen) {
			err = &backends.Error{Backend: id, Kind: backends.Transient, Err: err}
		}
		attempt.Status = string(backends.KindOf(err))
		attempt.Error = err.Error()
		r.attempts = append(r.attempts, attempt)
		errs = append(errs, err)
		o.metrics.ObserveBackend(id, attempt.Status, latency)

		o.logger.Warn("generation backend failed",
			zap.String("request_id", r.req.RequestID),
			zap.String("backend", id),
			zap.String("kind", attempt.Status),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}

	return models.GeneratedArtifact{}, &AllBackendsFailedError{Attempts: r.attempts, Errs: errs}
}

func (o *Orchestrator) attempt(ctx context.Context, b backends.Backend, req models.GenerationRequest) (models.GeneratedArtifact, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reading.backend")
	defer span.End()
	span.SetAttributes(attribute.String("backend.id", b.ID()))

	if o.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		defer cancel()
	}

	artifact, err := b.Generate(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		var be *backends.Error
		if !errors.As(err, &be) {
			err = &backends.Error{Backend: b.ID(), Kind: backends.Transient, Err: err}
		}
		return models.GeneratedArtifact{}, err
	}
	return artifact, nil
}

// resolve commits or releases on a context the caller cannot cancel
func (o *Orchestrator) resolve(ctx context.Context, r *run, commit bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.limits.ResolveTimeout)
	defer cancel()

	var err error
	if commit {
		err = o.quota.Commit(ctx, r.reservation)
	} else {
		err = o.quota.Release(ctx, r.reservation)
	}
	if err != nil {
		o.logger.Error("failed to resolve reservation",
			zap.String("request_id", r.req.RequestID),
			zap.Bool("commit", commit),
			zap.Error(err),
		)
		return
	}
	o.metrics.ObserveReservation(string(r.reservation.State()))
}

// finish builds the disposition and emits the single telemetry record
func (o *Orchestrator) finish(ctx context.Context, r *run, status models.DispositionStatus, reason, periodKey string) models.Disposition {
	disp := models.Disposition{
		RequestID: r.req.RequestID,
		Status:    status,
		Reason:    reason,
	}
	if r.reservation != nil {
		disp.ReservationState = r.reservation.State()
	}
	if r.artifact != nil {
		disp.BackendID = r.artifact.BackendID
	}
	if r.analysis != nil {
		metrics := r.analysis.Metrics
		disp.Metrics = &metrics
	}
	if r.outcome != nil {
		disp.Evaluation = r.outcome.Evaluation
		disp.ArtifactText = r.outcome.DeliveredText
	}

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.limits.ResolveTimeout)
	defer cancel()

	limit := o.limits.LimitFor(r.req.Tier)
	if usage, err := o.quota.Usage(detached, r.req.RequesterID, periodKey, limit); err == nil {
		disp.Usage = &usage
	}

	elapsed := o.now().Sub(r.started)
	o.metrics.ObserveReading(string(status), reason, elapsed)
	o.emit(detached, r, disp, periodKey, elapsed)

	o.logger.Info("reading finished",
		zap.String("request_id", r.req.RequestID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.String("backend", disp.BackendID),
		zap.String("reservation_state", string(disp.ReservationState)),
		zap.Duration("elapsed", elapsed),
	)
	return disp
}

func (o *Orchestrator) emit(ctx context.Context, r *run, disp models.Disposition, periodKey string, elapsed time.Duration) {
	if o.sink == nil {
		return
	}

	rec := telemetry.Record{
		RequestID:        r.req.RequestID,
		RequesterID:      r.req.RequesterID,
		PeriodKey:        periodKey,
		TemplateKey:      r.req.TemplateKey,
		BackendID:        disp.BackendID,
		Attempts:         r.attempts,
		Metrics:          disp.Metrics,
		Evaluation:       disp.Evaluation,
		Status:           disp.Status,
		Reason:           disp.Reason,
		ReservationState: disp.ReservationState,
		PromptVersion:    o.gate.Config().PromptVersion,
		DurationMs:       elapsed.Milliseconds(),
		CreatedAt:        o.now().UTC(),
	}
	if rec.Attempts == nil {
		rec.Attempts = []models.BackendAttempt{}
	}
	if r.artifact != nil {
		rec.Model = r.artifact.Model
	}
	if r.analysis != nil {
		for _, s := range r.analysis.Sections {
			rec.Excerpts = append(rec.Excerpts, telemetry.NewExcerpt(s.Heading, string(s.Kind), s.Body))
		}
	}

	rec = rec.Redacted(redact.New(r.req.KnownIdentifiers...))
	if o.signer != nil {
		if err := o.signer.Sign(&rec); err != nil {
			o.logger.Error("failed to sign telemetry", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
	}

	// telemetry failures never change the caller's result
	if err := o.sink.Emit(ctx, rec); err != nil {
		o.logger.Warn("failed to emit telemetry", zap.String("request_id", rec.RequestID), zap.Error(err))
	}
}
