package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcana/api/internal/app"
	"github.com/arcana/api/internal/config"
	"github.com/arcana/api/internal/database"
	"github.com/arcana/api/internal/handlers"
	"github.com/arcana/api/internal/middleware"
	"github.com/arcana/api/internal/orchestration"
	"github.com/arcana/api/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/arcana/api/docs" // Swagger docs
)

// @title Arcana Readings API
// @version 0.1.0
// @description Quota-metered tarot readings with backend failover and an evaluation gate.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
func main() {
	ctx := context.Background()

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("arcana api starting",
		zap.String("version", "0.1.0"),
		zap.String("environment", cfg.Environment),
	)

	shutdownTelemetry, err := telemetry.InitTracer(ctx, "arcana-api", cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		// collector might be down
		logger.Error("failed to initialize tracing", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown tracing", zap.Error(err))
			}
		}()
	}

	if cfg.DatabaseURL != "" && os.Getenv("SKIP_MIGRATIONS") != "true" {
		if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
		}
	}

	a, err := app.Build(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Fatal("failed to build reading pipeline", zap.Error(err))
	}
	defer a.Close()

	// async readings are optional; the API still serves sync readings without Temporal
	var async handlers.AsyncReadings
	temporalClient, err := orchestration.InitTemporalClient(cfg.TemporalAddress, logger)
	if err != nil {
		logger.Error("failed to connect to temporal", zap.Error(err))
	} else {
		defer temporalClient.Close()
		async = &orchestration.TemporalReadings{Client: temporalClient, TaskQueue: cfg.TemporalTaskQueue}
		logger.Info("connected to temporal", zap.String("task_queue", cfg.TemporalTaskQueue))
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())

	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deps := map[string]handlers.Pinger{
		"ai_service": handlers.HTTPPinger(cfg.AIServiceURL + "/health"),
	}
	if a.DB != nil {
		deps["database"] = a.DB
	}
	if a.Redis != nil {
		deps["redis"] = a.Redis
	}
	if a.Bus != nil {
		deps["nats"] = a.Bus
	}
	healthHandler := handlers.NewHealthHandler(deps)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)

	readingsHandler := handlers.NewReadingsHandler(a.Orchestrator, async, logger.Named("readings"))
	usageHandler := handlers.NewUsageHandler(a.Quota, cfg.Quota.LimitFor, logger.Named("usage"))

	defaultLimiter := middleware.NewRateLimiter(100, 20)
	strictLimiter := middleware.NewRateLimiter(20, 5)

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTSecret, logger))
		protected.Use(middleware.RateLimitMiddleware(defaultLimiter))
		{
			// generation routes: stricter rate limit, and refuse early when every backend breaker is open
			readings := protected.Group("/readings")
			{
				generate := readings.Group("")
				generate.Use(middleware.RateLimitMiddleware(strictLimiter))
				generate.Use(middleware.CircuitBreakerMiddleware(a.Orchestrator.Breakers()...))
				generate.POST("", readingsHandler.CreateReading)
				generate.POST("/async", readingsHandler.CreateAsyncReading)

				readings.GET("/async/:id", readingsHandler.GetAsyncReading)
			}

			protected.GET("/usage", usageHandler.GetUsage)
		}
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				defaultLimiter.Sweep()
				strictLimiter.Sweep()
			}
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // a reading may try several backends
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
