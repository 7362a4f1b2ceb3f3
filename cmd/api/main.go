// Package main is the entry point for the ClimaScope API server.
//
// It loads configuration, connects the database pool, builds the report
// pipeline (providers, narrative generator, map store, renderer, artifact
// store, orchestrator), wires the HTTP chassis with the domain handlers, and
// starts listening for requests.
//
// When SQS_REPORT_QUEUE is configured, submissions are dispatched to the
// report worker; otherwise they run in-process. Graceful shutdown is handled
// via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"climascope/internal/api/handlers"
	"climascope/internal/artifact"
	"climascope/internal/config"
	"climascope/internal/core"
	"climascope/internal/db"
	"climascope/internal/external"
	"climascope/internal/maps"
	"climascope/internal/narrative"
	"climascope/internal/pdf"
	"climascope/internal/pipeline"
	"climascope/internal/queue"
	"climascope/internal/telemetry"
	"climascope/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("climascope API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	// Database pool and repositories.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	execRepo := db.NewExecutionRepository(pool)
	countyRepo := db.NewCountyRepository(pool)

	// Filesystem stores.
	mapStore, err := maps.NewStore(maps.StoreConfig{
		BasePath: cfg.Maps.BasePath,
		MaxBytes: cfg.Maps.MaxUploadBytes,
		Logger:   logger,
	})
	if err != nil {
		pool.Close()
		return fmt.Errorf("initializing map store: %w", err)
	}

	artifactStore, err := artifact.NewStore(cfg.Artifacts.BasePath, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("initializing artifact store: %w", err)
	}

	// AWS clients are only needed when metrics or the report queue are
	// configured.
	var awsCfg aws.Config
	if cfg.AWS.MetricsEnabled || cfg.AWS.ReportQueueURL != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	var metrics types.MetricsCollector = telemetry.NoopCollector{}
	if cfg.AWS.MetricsEnabled {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = telemetry.NewCloudWatchCollector(cwClient, logger)
	}

	// Report pipeline.
	registry := external.NewProviderRegistry(cfg, logger)
	generator := narrative.NewGenerator(narrative.GeneratorConfig{
		Providers:   registry.Chain(),
		CallTimeout: cfg.Narrative.CallTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Executions:            execRepo,
		Counties:              countyRepo,
		Generator:             generator,
		Maps:                  mapStore,
		Renderer:              pdf.NewRenderer(logger),
		Artifacts:             artifactStore,
		Metrics:               metrics,
		Logger:                logger,
		StrictMaps:            cfg.Pipeline.StrictMaps,
		MaxConcurrentSections: cfg.Narrative.MaxConcurrent,
	})

	var dispatcher types.ReportDispatcher
	if cfg.AWS.ReportQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		dispatcher = queue.NewSQSDispatcher(sqsClient, cfg.AWS.ReportQueueURL, logger)
		logger.Info("report queue dispatch enabled", "queue_url", cfg.AWS.ReportQueueURL)
	} else {
		logger.Info("no report queue configured; submissions run in-process")
	}

	service := pipeline.NewService(pipeline.ServiceConfig{
		Executions:              execRepo,
		Orchestrator:            orchestrator,
		Dispatcher:              dispatcher,
		Artifacts:               artifactStore,
		Logger:                  logger,
		MaxConcurrentExecutions: cfg.Pipeline.MaxConcurrentExecutions,
	})

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = metrics
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	pipelineHandler := handlers.NewPipelineHandler(service, srv.Validator, logger)
	countyHandler := handlers.NewCountyHandler(countyRepo, srv.Validator, logger)
	mapHandler := handlers.NewMapHandler(mapStore, cfg.Maps.MaxUploadBytes, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		pipelineHandler.RegisterRoutes,
		countyHandler.RegisterRoutes,
		mapHandler.RegisterRoutes,
	)

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
