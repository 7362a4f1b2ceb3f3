package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"climascope/internal/types"
)

// defaultListLimit and maxListLimit bound history page sizes.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// StartRequest carries one report submission. Document is the raw weather data
// document; it is not parsed here, the validating stage owns that.
type StartRequest struct {
	CountyID    string
	PeriodStart types.Date
	PeriodEnd   types.Date
	Document    json.RawMessage
}

// ServiceConfig wires the Service's collaborators. Dispatcher is optional:
// when nil, submissions run in-process instead of through the report queue.
type ServiceConfig struct {
	Executions   types.ExecutionRepository
	Orchestrator *Orchestrator
	Dispatcher   types.ReportDispatcher
	Artifacts    types.ArtifactStore
	Clock        types.Clock
	Logger       *slog.Logger

	// MaxConcurrentExecutions bounds how many executions this process runs at
	// once. Applies to waited and in-process background runs; queue-dispatched
	// runs are bounded by the worker instead.
	MaxConcurrentExecutions int
}

// Service is the submission-side surface of the pipeline: it creates execution
// records, hands them to the orchestrator (synchronously, in-process, or via
// the report queue), and serves status, history, cancellation, and artifact
// reads.
type Service struct {
	executions   types.ExecutionRepository
	orchestrator *Orchestrator
	dispatcher   types.ReportDispatcher
	artifacts    types.ArtifactStore
	clock        types.Clock
	logger       *slog.Logger
	sem          chan struct{}
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	maxConcurrent := cfg.MaxConcurrentExecutions
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Service{
		executions:   cfg.Executions,
		orchestrator: cfg.Orchestrator,
		dispatcher:   cfg.Dispatcher,
		artifacts:    cfg.Artifacts,
		clock:        clock,
		logger:       logger,
		sem:          make(chan struct{}, maxConcurrent),
	}
}

// Start creates a new execution for the submission and schedules it. With
// wait set, the call blocks until the execution reaches a terminal state and
// the returned record reflects it. Otherwise the record is returned in the
// Pending state and the run proceeds through the report queue, or as an
// in-process goroutine when no queue is configured.
func (s *Service) Start(ctx context.Context, req StartRequest, wait bool) (*types.PipelineExecution, error) {
	if err := validateStartRequest(req); err != nil {
		return nil, err
	}

	exec := &types.PipelineExecution{
		ID:          uuid.NewString(),
		CountyID:    req.CountyID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Status:      types.ExecStatusPending,
		Stage:       types.StagePending,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("county_id", exec.CountyID),
	)

	if wait {
		return s.runBounded(ctx, exec.ID, req.Document, logger)
	}

	if s.dispatcher != nil {
		msg := types.SubmissionMessage{
			ExecutionID: exec.ID,
			CountyID:    exec.CountyID,
			PeriodStart: exec.PeriodStart,
			PeriodEnd:   exec.PeriodEnd,
			Document:    req.Document,
			TraceID:     types.GetRequestID(ctx),
			SubmittedAt: s.clock.Now(),
		}
		if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "submission enqueued")
		return exec, nil
	}

	// No queue configured: run in the background, detached from the request
	// context so client disconnects do not abort the execution.
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.runBounded(bg, exec.ID, req.Document, logger); err != nil {
			logger.Error("background execution failed", slog.String("error", err.Error()))
		}
	}()
	logger.InfoContext(ctx, "submission started in-process")
	return exec, nil
}

// runBounded runs one execution under the concurrency semaphore.
func (s *Service) runBounded(ctx context.Context, executionID string, raw []byte, logger *slog.Logger) (*types.PipelineExecution, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	exec, err := s.orchestrator.Run(ctx, executionID, raw)
	if err != nil {
		logger.ErrorContext(ctx, "execution run faulted", slog.String("error", err.Error()))
		return nil, err
	}
	return exec, nil
}

// Status returns the polling view of an execution.
func (s *Service) Status(ctx context.Context, executionID string) (types.ExecutionStatusView, error) {
	exec, err := s.executions.Get(ctx, executionID)
	if err != nil {
		return types.ExecutionStatusView{}, err
	}
	return exec.StatusView(), nil
}

// Cancel requests cooperative cancellation. Returns true when the request was
// acknowledged, false when the execution had already reached a terminal state.
// An unknown execution id is an error.
func (s *Service) Cancel(ctx context.Context, executionID string) (bool, error) {
	acknowledged, err := s.executions.RequestCancel(ctx, executionID)
	if err != nil {
		return false, err
	}
	if acknowledged {
		s.logger.InfoContext(ctx, "cancellation requested", slog.String("execution_id", executionID))
		return true, nil
	}

	// The flag was not set: either the execution is terminal or it does not
	// exist. Get distinguishes the two.
	if _, err := s.executions.Get(ctx, executionID); err != nil {
		return false, err
	}
	return false, nil
}

// List returns execution history matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter types.ExecutionFilter) ([]*types.PipelineExecution, types.PageInfo, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, types.PageInfo{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidStatus,
			"unknown status filter",
			nil,
			map[string]any{"status": string(filter.Status)},
		)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.executions.List(ctx, filter)
}

// PDF returns the rendered report for a completed execution. The artifact
// exists only after the persisting stage, so anything short of Completed is a
// not-found from the caller's point of view.
func (s *Service) PDF(ctx context.Context, executionID string) ([]byte, error) {
	exec, err := s.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != types.ExecStatusCompleted {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundArtifact,
			"no report available for this execution",
			nil,
			map[string]any{"status": string(exec.Status)},
		)
	}
	return s.artifacts.GetPDF(ctx, executionID)
}

// validateStartRequest checks the submission shape. Full document validation
// belongs to the validating stage; this only rejects requests the pipeline
// could never act on.
func validateStartRequest(req StartRequest) error {
	if req.CountyID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "county_id is required", nil)
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		return types.NewAppError(types.ErrCodeValidationInvalidPeriod, "period_start and period_end are required", nil)
	}
	if req.PeriodEnd.Before(req.PeriodStart.Time) {
		return types.NewAppError(types.ErrCodeValidationInvalidPeriod, "period_end must not precede period_start", nil)
	}
	if len(req.Document) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "document is required", nil)
	}
	return nil
}
