// Package main is the entrypoint for the report worker Lambda function.
//
// The worker consumes SubmissionMessages from the report SQS queue and drives
// the pipeline orchestrator to a terminal state for each one. It implements
// the SQS Lambda handler pattern where each invocation receives a batch of
// messages; messages whose processing faults are reported as partial batch
// failures so SQS retries only those.
//
// A domain-level failure (invalid document, render fault) is a terminal
// execution state, not a processing fault: the message is acknowledged and
// the failure is visible through the execution's status. Only infrastructure
// faults (database unreachable) trigger a redelivery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"climascope/internal/artifact"
	"climascope/internal/config"
	"climascope/internal/db"
	"climascope/internal/external"
	"climascope/internal/maps"
	"climascope/internal/narrative"
	"climascope/internal/pdf"
	"climascope/internal/pipeline"
	"climascope/internal/telemetry"
	"climascope/internal/types"
)

// Handler holds the dependencies for the report worker Lambda handler.
type Handler struct {
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger
}

// Handle processes an SQS event containing one or more report submissions.
// Each message is processed independently; failures are reported per message
// through the partial batch response.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process report submission",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage runs one submission through the orchestrator.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.SubmissionMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal submission message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure, redelivery cannot help. ACK.
		return nil
	}

	if msg.TraceID != "" {
		ctx = types.WithRequestID(ctx, msg.TraceID)
	}

	logger := h.logger.With(
		"execution_id", msg.ExecutionID,
		"county_id", msg.CountyID,
		"trace_id", msg.TraceID,
	)
	logger.InfoContext(ctx, "processing report submission",
		"queue_lag", queueLag(record).String(),
	)

	start := time.Now()
	exec, err := h.orchestrator.Run(ctx, msg.ExecutionID, msg.Document)
	if err != nil {
		// Repository or lookup fault: the execution state could not be
		// advanced. Redeliver.
		return fmt.Errorf("running execution %s: %w", msg.ExecutionID, err)
	}

	logger.InfoContext(ctx, "report submission processed",
		"status", string(exec.Status),
		"progress", exec.Progress,
		"warnings", len(exec.Warnings),
		"duration", time.Since(start).String(),
	)
	return nil
}

// queueLag computes how long the message sat in the queue, from the
// SentTimestamp attribute SQS attaches to every message.
func queueLag(record events.SQSMessage) time.Duration {
	sent, ok := record.Attributes["SentTimestamp"]
	if !ok {
		return 0
	}
	millis, err := strconv.ParseInt(sent, 10, 64)
	if err != nil {
		return 0
	}
	return time.Since(time.UnixMilli(millis))
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("report worker initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	execRepo := db.NewExecutionRepository(pool)
	countyRepo := db.NewCountyRepository(pool)

	mapStore, err := maps.NewStore(maps.StoreConfig{
		BasePath: cfg.Maps.BasePath,
		MaxBytes: cfg.Maps.MaxUploadBytes,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize map store", "error", err)
		os.Exit(1)
	}

	artifactStore, err := artifact.NewStore(cfg.Artifacts.BasePath, logger)
	if err != nil {
		logger.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}

	var metrics types.MetricsCollector = telemetry.NoopCollector{}
	if cfg.AWS.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = telemetry.NewCloudWatchCollector(cwClient, logger)
	}

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

	handler := &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}

	logger.Info("report worker initialized",
		"environment", cfg.Environment,
		"strict_maps", cfg.Pipeline.StrictMaps,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime. Enables local integration testing without the RIE.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run cmd/report-worker/main.go
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("no input received on stdin")
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}
		response, err := handler.Handle(ctx, sqsEvent)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		if len(response.BatchItemFailures) > 0 {
			respJSON, _ := json.MarshalIndent(response, "", "  ")
			fmt.Fprintln(os.Stderr, string(respJSON))
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
			"failures", len(response.BatchItemFailures),
		)
		pool.Close()
		return
	}

	lambda.Start(handler.Handle)
}
