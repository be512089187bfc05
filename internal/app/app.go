// Package app assembles the reading pipeline from configuration. The API server,
// the Temporal worker and the operator CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/arcana/api/internal/backends"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/database"
	"github.com/arcana/api/internal/eventbus"
	"github.com/arcana/api/internal/gate"
	"github.com/arcana/api/internal/judge"
	"github.com/arcana/api/internal/orchestration"
	"github.com/arcana/api/internal/quota"
	"github.com/arcana/api/internal/safety"
	"github.com/arcana/api/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App holds the wired pipeline and the connections it owns
type App struct {
	Config       *config.Config
	DB           *database.Postgres
	Redis        *database.Redis
	Bus          *eventbus.Bus
	Quota        *quota.Manager
	Metrics      *telemetry.Metrics
	Orchestrator *orchestration.Orchestrator
	Telemetry    *telemetry.PostgresSink

	logger *zap.Logger
}

// Build connects to the configured dependencies and wires the orchestrator.
// Postgres, Redis and NATS are optional unless the quota store needs them.
func Build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	for _, w := range cfg.Warnings {
		logger.Warn("configuration", zap.String("warning", w))
	}

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, "arcana-api")
		if err != nil {
			logger.Error("failed to connect to database", zap.Error(err))
		} else {
			a.DB = db
		}
	}
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", zap.Error(err))
		} else {
			a.Redis = rdb
		}
	}
	if cfg.NATSURL != "" {
		bus, err := eventbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", zap.Error(err))
		} else {
			a.Bus = bus
		}
	}

	store, err := a.quotaStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Quota = quota.NewManager(store, logger.Named("quota"))
	a.Metrics = telemetry.NewMetrics(reg)

	bs, err := backends.FromConfig(ctx, cfg.Backends, cfg.AIServiceURL, logger.Named("backends"))
	if err != nil {
		a.Close()
		return nil, err
	}

	g := gate.New(cfg.Gate, a.judge(), safety.DefaultCatalog(), logger.Named("gate"))

	a.Orchestrator = orchestration.New(orchestration.Options{
		Quota:            a.Quota,
		Limits:           cfg.Quota,
		Backends:         bs,
		AttemptTimeout:   cfg.Backends.AttemptTimeout,
		BreakerThreshold: cfg.Backends.BreakerFailureThreshold,
		BreakerTimeout:   cfg.Backends.BreakerTimeout,
		Gate:             g,
		Sink:             a.sinks(),
		Signer:           telemetry.NewSigner(cfg.TelemetrySigningKey),
		Metrics:          a.Metrics,
		Logger:           logger.Named("orchestrator"),
	})
	return a, nil
}

func (a *App) quotaStore() (quota.Store, error) {
	switch a.Config.Quota.Store {
	case "memory":
		a.logger.Warn("using in-memory quota store; counts are per process")
		return quota.NewMemoryStore(), nil
	case "redis":
		if a.Redis == nil {
			return nil, fmt.Errorf("quota store redis requires a reachable REDIS_URL")
		}
		return quota.NewRedisStore(a.Redis.Client()), nil
	case "postgres":
		if a.DB == nil {
			return nil, fmt.Errorf("quota store postgres requires a reachable DATABASE_URL")
		}
		return quota.NewPostgresStore(a.DB), nil
	default:
		return nil, fmt.Errorf("unknown quota store %q", a.Config.Quota.Store)
	}
}

func (a *App) judge() judge.Client {
	cfg := a.Config.Gate
	switch cfg.JudgeProvider {
	case "openai":
		if a.Config.Backends.OpenAIAPIKey == "" {
			a.logger.Warn("openai judge selected without OPENAI_API_KEY; judge disabled")
			return nil
		}
		return judge.NewLLMJudge(a.Config.Backends.OpenAIAPIKey, "", cfg.JudgeModel, cfg.JudgeTimeout, a.logger.Named("judge"))
	case "aiservice":
		return judge.NewHTTPJudge(a.Config.AIServiceURL, cfg.JudgeModel, cfg.JudgeTimeout, a.logger.Named("judge"))
	default:
		a.logger.Warn("unknown judge provider; judge disabled", zap.String("provider", cfg.JudgeProvider))
		return nil
	}
}

func (a *App) sinks() telemetry.Sink {
	sinks := []telemetry.Sink{telemetry.NewLogSink(a.logger.Named("telemetry"))}

	if a.DB != nil {
		a.Telemetry = telemetry.NewPostgresSink(a.DB)
		sinks = append(sinks, a.Telemetry)
	}
	if a.Bus != nil {
		store, err := eventbus.NewJetStreamStore(a.Bus, telemetry.EventStream, telemetry.EventSubjects)
		if err != nil {
			a.logger.Error("failed to init JetStream store", zap.Error(err))
		} else {
			sinks = append(sinks, telemetry.NewEventSink(store))
		}
	}
	return telemetry.NewMultiSink(a.Metrics, a.logger, sinks...)
}

// Close releases every connection the app opened
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
