package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const reading = `## The Tower
Right now the Tower shows a sudden upheaval, because the old plan no longer fits. Consider what to release this week.
`

func aiService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/generate/reading", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"text": reading, "model_id": "stub-1"})
	})
	mux.HandleFunc("/evaluate", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"scores":      map[string]int{"personalization": 4, "card_accuracy": 4, "tone": 4, "safety": 5, "structure": 4},
			"overall":     4,
			"safety_flag": false,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(redisURL, aiURL string) *config.Config {
	return &config.Config{
		RedisURL:            redisURL,
		AIServiceURL:        aiURL,
		TelemetrySigningKey: "k",
		Quota: config.QuotaConfig{
			Store:                    "redis",
			TierLimits:               map[string]int{"free": 2},
			DefaultTier:              "free",
			CrisisCommitsReservation: true,
			ResolveTimeout:           time.Second,
		},
		Backends: config.BackendsConfig{
			Priority:       []string{"aiservice", "anthropic"},
			AttemptTimeout: 2 * time.Second,
		},
		Gate: config.DefaultGateConfig(),
	}
}

func TestBuildRunsPipelineAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ai := aiService(t)

	a, err := Build(context.Background(), testConfig("redis://"+mr.Addr(), ai.URL), prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	req := models.GenerationRequest{
		RequestID:   "req-1",
		RequesterID: "user-1",
		Tier:        "free",
		TemplateKey: "single",
		Elements:    []models.Element{{ID: "The Tower"}},
		UserContext: "career change",
	}

	disp, err := a.Orchestrator.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, disp.Status)
	assert.Equal(t, "aiservice", disp.BackendID)
	require.NotNil(t, disp.Evaluation)
	assert.Equal(t, models.SourceJudge, disp.Evaluation.Source)
	assert.Equal(t, 1, disp.Usage.Committed)

	_, err = a.Orchestrator.Run(context.Background(), req)
	require.NoError(t, err)
	disp, err = a.Orchestrator.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, models.StatusRejectedQuota, disp.Status)
}

func TestBuildRequiresQuotaBackingStore(t *testing.T) {
	cfg := testConfig("", "http://127.0.0.1:1")
	_, err := Build(context.Background(), cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	cfg.Quota.Store = "memory"
	a, err := Build(context.Background(), cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	a.Close()

	cfg.Quota.Store = "etcd"
	_, err = Build(context.Background(), cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	assert.Error(t, err)
}
