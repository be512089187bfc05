package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arcana/api/internal/backends"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/gate"
	"github.com/arcana/api/internal/judge"
	"github.com/arcana/api/internal/middleware"
	"github.com/arcana/api/internal/models"
	"github.com/arcana/api/internal/quota"
	"github.com/arcana/api/internal/safety"
	"github.com/arcana/api/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

const goodReading = `## Opening
Let's look at your spread.

## The Tower
Right now the Tower shows a sudden upheaval at work. This connects to your question about change.
Next, consider what you want to rebuild.

## The Star
Currently the Star brings hope into the picture. This ties to your wish for steadiness.
Going forward, lean on quiet routines.
`

type stubBackend struct {
	id    string
	text  string
	err   error
	block bool

	mu    sync.Mutex
	calls int
}

func (b *stubBackend) ID() string { return b.id }

func (b *stubBackend) Generate(ctx context.Context, _ models.GenerationRequest) (models.GeneratedArtifact, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.block {
		<-ctx.Done()
		return models.GeneratedArtifact{}, &backends.Error{Backend: b.id, Kind: backends.Transient, Err: ctx.Err()}
	}
	if b.err != nil {
		return models.GeneratedArtifact{}, b.err
	}
	return models.GeneratedArtifact{BackendID: b.id, Text: b.text}, nil
}

func (b *stubBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type stubJudge struct {
	result models.EvaluationResult
	err    error
}

func (j *stubJudge) Evaluate(context.Context, judge.Request) (models.EvaluationResult, error) {
	return j.result, j.err
}

func judged(overall int, flag bool) models.EvaluationResult {
	scores := map[string]int{}
	for _, d := range models.Dimensions {
		scores[d] = overall
	}
	return models.EvaluationResult{
		Source:          models.SourceJudge,
		DimensionScores: scores,
		Overall:         overall,
		SafetyFlag:      flag,
		Issues:          []string{},
	}
}

type recordingSink struct {
	mu   sync.Mutex
	recs []telemetry.Record
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Emit(_ context.Context, rec telemetry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

type fixture struct {
	store   *quota.MemoryStore
	manager *quota.Manager
	sink    *recordingSink
	signer  *telemetry.Signer
}

func newFixture() *fixture {
	store := quota.NewMemoryStore()
	return &fixture{
		store:   store,
		manager: quota.NewManager(store, zap.NewNop()),
		sink:    &recordingSink{},
		signer:  telemetry.NewSigner("test"),
	}
}

func (f *fixture) orchestrator(gateCfg config.GateConfig, j judge.Client, bs ...backends.Backend) *Orchestrator {
	return New(Options{
		Quota: f.manager,
		Limits: config.QuotaConfig{
			TierLimits:               map[string]int{"free": 5, "pro": 0},
			DefaultTier:              "free",
			CrisisCommitsReservation: true,
			ResolveTimeout:           time.Second,
		},
		Backends:       bs,
		AttemptTimeout: 200 * time.Millisecond,
		Gate:           gate.New(gateCfg, j, safety.DefaultCatalog(), zap.NewNop()),
		Sink:           f.sink,
		Signer:         f.signer,
		Logger:         zap.NewNop(),
	})
}

func request() models.GenerationRequest {
	return models.GenerationRequest{
		RequestID:        "req-1",
		RequesterID:      "user-1",
		Tier:             "free",
		TemplateKey:      "three_card",
		Elements:         []models.Element{{ID: "The Tower", Position: "present"}, {ID: "The Star", Position: "future"}},
		UserContext:      "Maria Lopez is nervous about a job change, call me at 555-123-4567",
		KnownIdentifiers: []string{"Maria Lopez"},
		ReceivedAt:       time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) counters(t *testing.T) quota.Counters {
	t.Helper()
	c, err := f.store.Counters(context.Background(), quota.Key{RequesterID: "user-1", PeriodKey: "2026-10"})
	require.NoError(t, err)
	return c
}

func TestDeliveredCommitsReservation(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)},
		&stubBackend{id: "aiservice", text: goodReading})

	disp, err := o.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, models.StatusDelivered, disp.Status)
	assert.Equal(t, gate.ReasonPassed, disp.Reason)
	assert.Equal(t, goodReading, disp.ArtifactText)
	assert.Equal(t, models.ReservationCommitted, disp.ReservationState)
	assert.Equal(t, "aiservice", disp.BackendID)
	require.NotNil(t, disp.Metrics)
	ratio, ok := disp.Metrics.CoverageRatio()
	require.True(t, ok)
	assert.Equal(t, 1.0, ratio)

	require.NotNil(t, disp.Usage)
	assert.Equal(t, 1, disp.Usage.Committed)
	assert.Equal(t, 4, disp.Usage.Remaining)
	assert.Equal(t, quota.Counters{Committed: 1}, f.counters(t))

	require.Len(t, f.sink.recs, 1)
	rec := f.sink.recs[0]
	assert.Equal(t, models.StatusDelivered, rec.Status)
	assert.Equal(t, models.ReservationCommitted, rec.ReservationState)
	assert.Equal(t, "reading-eval-v4", rec.PromptVersion)
	require.NoError(t, f.signer.Verify(rec))
}

func TestFallbackToNextBackend(t *testing.T) {
	f := newFixture()
	first := &stubBackend{id: "aiservice", err: &backends.Error{Backend: "aiservice", Kind: backends.Transient, StatusCode: 503, Err: errors.New("unavailable")}}
	second := &stubBackend{id: "anthropic", text: goodReading}
	third := &stubBackend{id: "openai", text: goodReading}
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)}, first, second, third)

	disp, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "anthropic", disp.BackendID)
	assert.Equal(t, 0, third.Calls())

	rec := f.sink.recs[0]
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, "transient", rec.Attempts[0].Status)
	assert.Equal(t, "success", rec.Attempts[1].Status)
}

func TestAllBackendsFailedReleasesReservation(t *testing.T) {
	f := newFixture()
	key := quota.Key{RequesterID: "user-1", PeriodKey: "2026-10"}
	f.store.Seed(key, 1)

	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)},
		&stubBackend{id: "aiservice", err: &backends.Error{Backend: "aiservice", Kind: backends.Permanent, StatusCode: 400, Err: errors.New("bad request")}},
		&stubBackend{id: "anthropic", block: true},
	)

	disp, err := o.Run(context.Background(), request())
	require.Error(t, err)

	var allFailed *AllBackendsFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Attempts, 2)
	assert.Equal(t, "permanent", allFailed.Attempts[0].Status)
	assert.Equal(t, "transient", allFailed.Attempts[1].Status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, models.StatusRejectedUnavailable, disp.Status)
	assert.Equal(t, models.ReservationReleased, disp.ReservationState)
	assert.Empty(t, disp.ArtifactText)

	// requester stays at 1 of 5
	assert.Equal(t, quota.Counters{Committed: 1}, f.counters(t))
	usage, err := f.manager.Usage(context.Background(), "user-1", "2026-10", 5)
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Remaining)

	require.Len(t, f.sink.recs, 1)
	assert.Equal(t, models.StatusRejectedUnavailable, f.sink.recs[0].Status)
}

func TestSafetyBlockCommitsUnderFailOpen(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, true)},
		&stubBackend{id: "aiservice", text: goodReading})

	disp, err := o.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, models.StatusSafeFallback, disp.Status)
	assert.Equal(t, gate.ReasonSafetyFlagged, disp.Reason)
	assert.Equal(t, gate.BlockedFallbackText, disp.ArtifactText)
	assert.Equal(t, models.ReservationCommitted, disp.ReservationState)
	assert.Equal(t, quota.Counters{Committed: 1}, f.counters(t))
}

func TestJudgeOutageFailOpenVersusClosed(t *testing.T) {
	down := &stubJudge{err: judge.ErrJudgeUnavailable}

	open := config.DefaultGateConfig()
	open.HeuristicFallback = false
	f := newFixture()
	disp, err := f.orchestrator(open, down, &stubBackend{id: "aiservice", text: goodReading}).Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, disp.Status)
	assert.Equal(t, gate.ReasonJudgeUnavailableOpen, disp.Reason)

	closed := open
	closed.FailureMode = config.FailClosed
	f = newFixture()
	disp, err = f.orchestrator(closed, down, &stubBackend{id: "aiservice", text: goodReading}).Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSafeFallback, disp.Status)
	assert.Equal(t, gate.ReasonJudgeUnavailableClosed, disp.Reason)
	assert.Equal(t, models.ReservationCommitted, disp.ReservationState)
}

func TestQuotaExceeded(t *testing.T) {
	f := newFixture()
	f.store.Seed(quota.Key{RequesterID: "user-1", PeriodKey: "2026-10"}, 5)
	backend := &stubBackend{id: "aiservice", text: goodReading}
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)}, backend)

	disp, err := o.Run(context.Background(), request())
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, models.StatusRejectedQuota, disp.Status)
	assert.Empty(t, disp.ReservationState)
	assert.Equal(t, 0, backend.Calls())
	require.NotNil(t, disp.Usage)
	assert.Equal(t, 0, disp.Usage.Remaining)
	assert.Len(t, f.sink.recs, 1)
}

func TestUnlimitedTier(t *testing.T) {
	f := newFixture()
	f.store.Seed(quota.Key{RequesterID: "user-1", PeriodKey: "2026-10"}, 1000)
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)},
		&stubBackend{id: "aiservice", text: goodReading})

	req := request()
	req.Tier = "pro"
	disp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, disp.Status)
	assert.Equal(t, -1, disp.Usage.Remaining)
}

func TestCrisisShortCircuit(t *testing.T) {
	f := newFixture()
	backend := &stubBackend{id: "aiservice", text: goodReading}
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)}, backend)

	req := request()
	req.UserContext = "honestly I want to die"
	disp, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSafeFallback, disp.Status)
	assert.Equal(t, gate.ReasonCrisisShortCircuit, disp.Reason)
	assert.Contains(t, disp.ArtifactText, "crisis line")
	assert.Nil(t, disp.Evaluation)
	assert.Equal(t, models.ReservationCommitted, disp.ReservationState)
	assert.Equal(t, 0, backend.Calls())
}

func TestCrisisReleaseWhenConfigured(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), nil, &stubBackend{id: "aiservice", text: goodReading})
	o.limits.CrisisCommitsReservation = false

	req := request()
	req.UserContext = "honestly I want to die"
	disp, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReleased, disp.ReservationState)
	assert.Equal(t, quota.Counters{}, f.counters(t))
}

func TestCallerCancellationReleases(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture()
	backend := &stubBackend{id: "aiservice", block: true}
	o := f.orchestrator(config.DefaultGateConfig(), nil, backend)
	o.attemptTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	disp, err := o.Run(ctx, request())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusRejectedUnavailable, disp.Status)
	assert.Equal(t, models.ReservationReleased, disp.ReservationState)
	assert.Equal(t, quota.Counters{}, f.counters(t))

	// cancellation does not count against the backend
	assert.Equal(t, middleware.CircuitClosed, o.Breakers()[0].State())
}

func TestOpenBreakerSkipsBackend(t *testing.T) {
	f := newFixture()
	broken := &stubBackend{id: "aiservice", err: &backends.Error{Backend: "aiservice", Kind: backends.Transient, StatusCode: 502, Err: errors.New("bad gateway")}}
	fallback := &stubBackend{id: "anthropic", text: goodReading}
	o := New(Options{
		Quota:            f.manager,
		Limits:           config.QuotaConfig{TierLimits: map[string]int{"free": 0}, DefaultTier: "free"},
		Backends:         []backends.Backend{broken, fallback},
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
		Gate:             gate.New(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)}, safety.DefaultCatalog(), zap.NewNop()),
	})

	for i := 0; i < 3; i++ {
		_, err := o.Run(context.Background(), request())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, broken.Calls())
	assert.Equal(t, middleware.CircuitOpen, o.Breakers()[0].State())
}

func TestTelemetryIsRedacted(t *testing.T) {
	f := newFixture()
	text := goodReading + "\n## Closing\nMaria Lopez, you can reach out at 555-987-6543 anytime.\n"
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)},
		&stubBackend{id: "aiservice", text: text})

	_, err := o.Run(context.Background(), request())
	require.NoError(t, err)

	require.Len(t, f.sink.recs, 1)
	rec := f.sink.recs[0]
	require.NotEmpty(t, rec.Excerpts)
	closing := rec.Excerpts[len(rec.Excerpts)-1]
	assert.Equal(t, "[NAME], you can reach out at [PHONE] anytime.", closing.Text)
	for _, e := range rec.Excerpts {
		assert.NotContains(t, e.Text, "Maria")
	}
}

func TestPanicReleasesReservation(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), nil, panickingBackend{})

	assert.Panics(t, func() {
		_, _ = o.Run(context.Background(), request())
	})
	assert.Equal(t, quota.Counters{}, f.counters(t))
}

type panickingBackend struct{}

func (panickingBackend) ID() string { return "panicky" }

func (panickingBackend) Generate(context.Context, models.GenerationRequest) (models.GeneratedArtifact, error) {
	panic("backend exploded")
}

// alternatingBackend fails every second call
type alternatingBackend struct {
	mu    sync.Mutex
	calls int
}

func (b *alternatingBackend) ID() string { return "alternating" }

func (b *alternatingBackend) Generate(_ context.Context, _ models.GenerationRequest) (models.GeneratedArtifact, error) {
	b.mu.Lock()
	b.calls++
	fail := b.calls%2 == 0
	b.mu.Unlock()
	if fail {
		return models.GeneratedArtifact{}, &backends.Error{Backend: b.ID(), Kind: backends.Transient, Err: errors.New("upstream 502")}
	}
	return models.GeneratedArtifact{BackendID: b.ID(), Text: goodReading}, nil
}

func TestConcurrentRunsConserveQuota(t *testing.T) {
	const runs, limit = 40, 5

	f := newFixture()
	o := f.orchestrator(config.DefaultGateConfig(), &stubJudge{result: judged(4, false)}, &alternatingBackend{})

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		disps []models.Disposition
	)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := request()
			req.RequestID = fmt.Sprintf("req-%d", i)
			disp, _ := o.Run(context.Background(), req)
			mu.Lock()
			disps = append(disps, disp)
			mu.Unlock()
		}()
	}
	wg.Wait()

	charged := 0
	for _, d := range disps {
		switch d.Status {
		case models.StatusDelivered, models.StatusSafeFallback:
			charged++
			assert.Equal(t, models.ReservationCommitted, d.ReservationState)
		case models.StatusRejectedUnavailable:
			assert.NotEqual(t, models.ReservationCommitted, d.ReservationState)
		}
	}

	c, err := f.store.Counters(context.Background(), quota.Key{RequesterID: "user-1", PeriodKey: f.manager.CurrentPeriod()})
	require.NoError(t, err)
	assert.Zero(t, c.Reserved)
	assert.LessOrEqual(t, c.Committed, limit)
	assert.Equal(t, charged, c.Committed)
	assert.Len(t, disps, runs)
}
