package main

import (
	"context"
	"log"

	"github.com/arcana/api/internal/app"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/orchestration"
	"github.com/arcana/api/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	shutdownTelemetry, err := telemetry.InitTracer(ctx, "arcana-worker", cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown tracing", zap.Error(err))
			}
		}()
	}

	a, err := app.Build(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Fatal("failed to build reading pipeline", zap.Error(err))
	}
	defer a.Close()

	c, err := orchestration.InitTemporalClient(cfg.TemporalAddress, logger)
	if err != nil {
		logger.Fatal("unable to create Temporal client", zap.Error(err))
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(orchestration.ReadingWorkflow, workflow.RegisterOptions{Name: orchestration.ReadingWorkflowName})
	w.RegisterActivity(&orchestration.Activities{Orchestrator: a.Orchestrator})

	logger.Info("starting reading worker", zap.String("task_queue", cfg.TemporalTaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("unable to start worker", zap.Error(err))
	}
}
