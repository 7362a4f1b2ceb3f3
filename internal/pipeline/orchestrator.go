// Package pipeline drives a report generation run through its staged state
// machine: validate, generate narratives, resolve maps, assemble, render,
// persist. Stage transitions and progress are written to the execution
// repository after every boundary so polling clients always observe a
// consistent snapshot, and cancellation is honored cooperatively at each
// boundary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"climascope/internal/report"
	"climascope/internal/schema"
	"climascope/internal/types"
)

// NarrativeGenerator produces prose for one section. Generation is
// degradable and therefore never returns an error; failures surface as
// warnings and fallback narratives.
type NarrativeGenerator interface {
	Generate(ctx context.Context, doc *types.WeatherDataDocument, sectionID types.SectionID) (types.Narrative, []string)
}

// Renderer turns an assembled report into PDF bytes.
type Renderer interface {
	Render(report *types.CompleteReport) ([]byte, error)
}

// Orchestrator executes the pipeline state machine for one execution at a
// time per Run call. It is stateless between runs and safe for concurrent use.
type Orchestrator struct {
	executions types.ExecutionRepository
	counties   types.CountyRepository
	generator  NarrativeGenerator
	maps       types.MapStore
	renderer   Renderer
	artifacts  types.ArtifactStore
	metrics    types.MetricsCollector
	logger     *slog.Logger
	clock      types.Clock

	// strictMaps escalates a missing map from warning to failure.
	strictMaps bool

	maxConcurrentSections int
}

// OrchestratorConfig holds the orchestrator's dependencies and tuning.
type OrchestratorConfig struct {
	Executions types.ExecutionRepository
	Counties   types.CountyRepository
	Generator  NarrativeGenerator
	Maps       types.MapStore
	Renderer   Renderer
	Artifacts  types.ArtifactStore
	Metrics    types.MetricsCollector
	Logger     *slog.Logger
	Clock      types.Clock

	// StrictMaps fails the execution on any missing map instead of rendering
	// a placeholder.
	StrictMaps bool

	// MaxConcurrentSections bounds the narrative fan-out.
	MaxConcurrentSections int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	maxSections := cfg.MaxConcurrentSections
	if maxSections < 1 {
		maxSections = 1
	}

	return &Orchestrator{
		executions:            cfg.Executions,
		counties:              cfg.Counties,
		generator:             cfg.Generator,
		maps:                  cfg.Maps,
		renderer:              cfg.Renderer,
		artifacts:             cfg.Artifacts,
		metrics:               cfg.Metrics,
		logger:                logger,
		clock:                 clock,
		strictMaps:            cfg.StrictMaps,
		maxConcurrentSections: maxSections,
	}
}

// errCancelled is an internal sentinel for the cooperative cancel path.
var errCancelled = errors.New("execution cancelled")

// Run drives the execution with the given raw document to a terminal state.
// The returned execution reflects the final persisted record. Run only
// returns an error for repository faults that prevented state from being
// recorded; pipeline failures are captured on the execution itself.
func (o *Orchestrator) Run(ctx context.Context, executionID string, raw []byte) (*types.PipelineExecution, error) {
	exec, err := o.executions.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Terminal() {
		// Re-delivery of an already-finished execution is a no-op.
		o.logger.Info("execution already terminal, skipping",
			slog.String("execution_id", exec.ID),
			slog.String("status", string(exec.Status)),
		)
		return exec, nil
	}

	o.count(ctx, types.MetricPipelineStarted, map[string]string{types.DimCounty: exec.CountyID})
	logger := o.logger.With(slog.String("execution_id", exec.ID), slog.String("county_id", exec.CountyID))

	now := o.clock.Now()
	exec.Status = types.ExecStatusRunning
	exec.StartedAt = &now

	runErr := o.runStages(ctx, exec, raw, logger)
	switch {
	case runErr == nil:
		o.complete(ctx, exec, logger)
	case errors.Is(runErr, errCancelled):
		o.cancel(ctx, exec, logger)
	default:
		var stageFailure *stageError
		if !errors.As(runErr, &stageFailure) {
			stageFailure = &stageError{
				kind:    types.TerminalErrorInternal,
				message: runErr.Error(),
			}
		}
		o.fail(ctx, exec, stageFailure, logger)
	}

	if err := o.executions.UpdateState(ctx, exec); err != nil {
		logger.Error("failed to persist terminal execution state", slog.String("error", err.Error()))
		return exec, err
	}
	return exec, nil
}

// stageError carries the terminal error classification out of a stage.
type stageError struct {
	kind    types.TerminalErrorKind
	message string
	fields  []types.FieldError
	cause   error
}

func (e *stageError) Error() string { return e.message }
func (e *stageError) Unwrap() error { return e.cause }

// runStages executes the ordered stages, returning nil on success,
// errCancelled on cooperative cancellation, or a *stageError on failure.
func (o *Orchestrator) runStages(ctx context.Context, exec *types.PipelineExecution, raw []byte, logger *slog.Logger) error {
	doc, err := o.validate(ctx, exec, raw, logger)
	if err != nil {
		return err
	}

	narratives, err := o.generateNarratives(ctx, exec, doc, logger)
	if err != nil {
		return err
	}

	mapRefs, err := o.resolveMaps(ctx, exec, doc, logger)
	if err != nil {
		return err
	}

	complete, err := o.assemble(ctx, exec, doc, narratives, mapRefs, logger)
	if err != nil {
		return err
	}

	pdfBytes, err := o.render(ctx, exec, complete, logger)
	if err != nil {
		return err
	}

	return o.persist(ctx, exec, complete, pdfBytes, logger)
}

// enterStage checks for cancellation, records the transition and persists it.
func (o *Orchestrator) enterStage(ctx context.Context, exec *types.PipelineExecution, stage types.Stage, progress int) error {
	cancelled, err := o.executions.CancelRequested(ctx, exec.ID)
	if err != nil {
		return &stageError{kind: types.TerminalErrorInternal, message: "failed to check cancellation", cause: err}
	}
	if cancelled {
		return errCancelled
	}

	exec.EnterStage(stage, progress, o.clock.Now())
	if err := o.executions.UpdateState(ctx, exec); err != nil {
		return &stageError{kind: types.TerminalErrorInternal, message: "failed to persist stage transition", cause: err}
	}
	return nil
}

// checkpoint raises progress and persists the execution mid-stage.
func (o *Orchestrator) checkpoint(ctx context.Context, exec *types.PipelineExecution, progress int) error {
	exec.SetProgress(progress)
	if err := o.executions.UpdateState(ctx, exec); err != nil {
		return &stageError{kind: types.TerminalErrorInternal, message: "failed to persist progress", cause: err}
	}
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, exec *types.PipelineExecution, raw []byte, logger *slog.Logger) (*types.WeatherDataDocument, error) {
	start := o.clock.Now()
	if err := o.enterStage(ctx, exec, types.StageValidating, 0); err != nil {
		return nil, err
	}

	result, err := schema.Validate(raw)
	if err != nil {
		return nil, &stageError{
			kind:    types.TerminalErrorValidation,
			message: "submitted document is not valid JSON",
			cause:   err,
		}
	}
	if !result.Valid() {
		return nil, &stageError{
			kind:    types.TerminalErrorValidation,
			message: fmt.Sprintf("document failed schema validation with %d field errors", len(result.FieldErrors)),
			fields:  result.FieldErrors,
		}
	}
	doc := result.Document

	if doc.CountyID != exec.CountyID {
		return nil, &stageError{
			kind:    types.TerminalErrorValidation,
			message: "document county does not match submission county",
			fields: []types.FieldError{{
				FieldPath: "county_id",
				Message:   fmt.Sprintf("document is for county %s; submission targeted %s", doc.CountyID, exec.CountyID),
			}},
		}
	}

	if _, err := o.counties.Get(ctx, doc.CountyID); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundCounty {
			return nil, &stageError{
				kind:    types.TerminalErrorValidation,
				message: fmt.Sprintf("county %s is not registered", doc.CountyID),
				fields:  []types.FieldError{{FieldPath: "county_id", Message: "unknown county"}},
			}
		}
		return nil, &stageError{kind: types.TerminalErrorInternal, message: "failed to look up county", cause: err}
	}

	for _, warning := range result.Warnings {
		exec.AddWarning(warning)
	}

	o.stageLatency(ctx, types.StageValidating, o.clock.Now().Sub(start))
	logger.Info("document validated", slog.Int("wards", len(doc.Wards)), slog.Int("warnings", len(result.Warnings)))
	return doc, o.checkpoint(ctx, exec, types.ProgressValidated)
}

func (o *Orchestrator) generateNarratives(ctx context.Context, exec *types.PipelineExecution, doc *types.WeatherDataDocument, logger *slog.Logger) (types.NarrativeSet, error) {
	start := o.clock.Now()
	if err := o.enterStage(ctx, exec, types.StageGeneratingNarratives, types.ProgressNarrativeStart); err != nil {
		return nil, err
	}

	total := len(types.NarrativeSections)
	narratives := make(types.NarrativeSet, total)

	var mu sync.Mutex
	done := 0

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrentSections)
	for _, kind := range types.NarrativeSections {
		sectionID := types.SectionID(kind)
		g.Go(func() error {
			narrative, warnings := o.generator.Generate(groupCtx, doc, sectionID)

			mu.Lock()
			defer mu.Unlock()
			narratives[sectionID] = narrative
			for _, w := range warnings {
				exec.AddWarning(w)
			}
			done++
			// Advance proportionally between the stage's entry and completion
			// checkpoints as sections finish.
			span := types.ProgressNarrativesDone - types.ProgressNarrativeStart
			exec.SetProgress(types.ProgressNarrativeStart + span*done/total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &stageError{kind: types.TerminalErrorInternal, message: "narrative generation aborted", cause: err}
	}

	o.stageLatency(ctx, types.StageGeneratingNarratives, o.clock.Now().Sub(start))
	logger.Info("narratives generated",
		slog.Int("sections", total),
		slog.Int("fallbacks", narratives.FallbackCount()),
	)
	return narratives, o.checkpoint(ctx, exec, types.ProgressNarrativesDone)
}

func (o *Orchestrator) resolveMaps(ctx context.Context, exec *types.PipelineExecution, doc *types.WeatherDataDocument, logger *slog.Logger) (map[types.Variable]types.MapReference, error) {
	start := o.clock.Now()
	if err := o.enterStage(ctx, exec, types.StageResolvingMaps, types.ProgressNarrativesDone); err != nil {
		return nil, err
	}

	refs := make(map[types.Variable]types.MapReference, len(types.AllVariables))
	for _, variable := range types.AllVariables {
		key := types.MapKey{
			CountyID:    doc.CountyID,
			Variable:    variable,
			PeriodStart: doc.Period.Start,
			PeriodEnd:   doc.Period.End,
		}
		ref, err := o.maps.Resolve(ctx, key)
		if err != nil {
			return nil, &stageError{
				kind:    types.TerminalErrorInternal,
				message: fmt.Sprintf("map store fault resolving %s", key),
				cause:   err,
			}
		}
		refs[variable] = ref

		if !ref.Found {
			o.count(ctx, types.MetricMapMissing, map[string]string{
				types.DimCounty:   doc.CountyID,
				types.DimVariable: string(variable),
			})
			if o.strictMaps {
				return nil, &stageError{
					kind:    types.TerminalErrorInternal,
					message: fmt.Sprintf("required map missing: %s", key),
				}
			}
			exec.AddWarning(fmt.Sprintf("map missing for %s (%s); placeholder will be rendered", variable, ref.MissingReason))
		}
	}

	o.stageLatency(ctx, types.StageResolvingMaps, o.clock.Now().Sub(start))
	return refs, o.checkpoint(ctx, exec, types.ProgressMapsResolved)
}

func (o *Orchestrator) assemble(ctx context.Context, exec *types.PipelineExecution, doc *types.WeatherDataDocument, narratives types.NarrativeSet, mapRefs map[types.Variable]types.MapReference, logger *slog.Logger) (*types.CompleteReport, error) {
	start := o.clock.Now()
	if err := o.enterStage(ctx, exec, types.StageAssembling, types.ProgressMapsResolved); err != nil {
		return nil, err
	}

	sections, warnings := report.Assemble(report.Input{
		Document:   doc,
		Narratives: narratives,
		Maps:       mapRefs,
	})
	for _, w := range warnings {
		exec.AddWarning(w)
	}

	orderedRefs := make([]types.MapReference, 0, len(types.AllVariables))
	for _, variable := range types.AllVariables {
		orderedRefs = append(orderedRefs, mapRefs[variable])
	}

	complete := &types.CompleteReport{
		ExecutionID: exec.ID,
		Document:    *doc,
		Narratives:  narratives,
		Maps:        orderedRefs,
		Sections:    sections,
		Warnings:    exec.Warnings,
	}

	o.stageLatency(ctx, types.StageAssembling, o.clock.Now().Sub(start))
	return complete, o.checkpoint(ctx, exec, types.ProgressAssembled)
}

func (o *Orchestrator) render(ctx context.Context, exec *types.PipelineExecution, complete *types.CompleteReport, logger *slog.Logger) ([]byte, error) {
	start := o.clock.Now()
	if err := o.enterStage(ctx, exec, types.StageRendering, types.ProgressAssembled); err != nil {
		return nil, err
	}

	pdfBytes, err := o.renderer.Render(complete)
	if err != nil {
		return nil, &stageError{
			kind:    types.TerminalErrorRender,
			message: "failed to render report PDF",
			cause:   err,
		}
	}

	o.stageLatency(ctx, types.StageRendering, o.clock.Now().Sub(start))
	logger.Info("report rendered", slog.Int("pdf_bytes", len(pdfBytes)))
	return pdfBytes, o.checkpoint(ctx, exec, types.ProgressRendered)
}

func (o *Orchestrator) persist(ctx context.Context, exec *types.PipelineExecution, complete *types.CompleteReport, pdfBytes []byte, logger *slog.Logger) error {
	start := o.clock.Now()
	if err := o.enterStage(ctx, exec, types.StagePersisting, types.ProgressRendered); err != nil {
		return err
	}

	reportPath, err := o.artifacts.SaveCompleteReport(ctx, exec.ID, complete)
	if err != nil {
		return &stageError{kind: types.TerminalErrorStorage, message: "failed to persist complete report", cause: err}
	}
	pdfPath, err := o.artifacts.SavePDF(ctx, exec.ID, pdfBytes)
	if err != nil {
		return &stageError{kind: types.TerminalErrorStorage, message: "failed to persist report PDF", cause: err}
	}

	exec.ReportPath = reportPath
	exec.PDFPath = pdfPath

	o.stageLatency(ctx, types.StagePersisting, o.clock.Now().Sub(start))
	return o.checkpoint(ctx, exec, types.ProgressPersisted)
}

func (o *Orchestrator) complete(ctx context.Context, exec *types.PipelineExecution, logger *slog.Logger) {
	now := o.clock.Now()
	exec.Status = types.ExecStatusCompleted
	exec.EnterStage(types.StageCompleted, types.ProgressCompleted, now)
	exec.CompletedAt = &now

	o.count(ctx, types.MetricPipelineCompleted, map[string]string{types.DimCounty: exec.CountyID})
	logger.Info("execution completed",
		slog.Int("warnings", len(exec.Warnings)),
		slog.String("pdf_path", exec.PDFPath),
	)
}

func (o *Orchestrator) cancel(ctx context.Context, exec *types.PipelineExecution, logger *slog.Logger) {
	now := o.clock.Now()
	exec.Status = types.ExecStatusCancelled
	exec.EnterStage(types.StageCancelled, exec.Progress, now)
	exec.CompletedAt = &now

	o.count(ctx, types.MetricPipelineCancelled, map[string]string{types.DimCounty: exec.CountyID})
	logger.Info("execution cancelled", slog.String("last_stage", string(exec.Stage)))
}

func (o *Orchestrator) fail(ctx context.Context, exec *types.PipelineExecution, failure *stageError, logger *slog.Logger) {
	now := o.clock.Now()
	exec.Status = types.ExecStatusFailed
	exec.TerminalError = &types.TerminalError{
		Kind:    failure.kind,
		Message: failure.message,
		Fields:  failure.fields,
	}
	exec.EnterStage(types.StageFailed, exec.Progress, now)
	exec.CompletedAt = &now

	o.count(ctx, types.MetricPipelineFailed, map[string]string{types.DimCounty: exec.CountyID})
	attrs := []any{
		slog.String("kind", string(failure.kind)),
		slog.String("message", failure.message),
	}
	if failure.cause != nil {
		attrs = append(attrs, slog.String("error", failure.cause.Error()))
	}
	logger.Error("execution failed", attrs...)
}

func (o *Orchestrator) count(ctx context.Context, metric string, dims map[string]string) {
	if o.metrics != nil {
		o.metrics.Count(ctx, metric, dims)
	}
}

func (o *Orchestrator) stageLatency(ctx context.Context, stage types.Stage, d time.Duration) {
	if o.metrics != nil {
		o.metrics.Duration(ctx, types.MetricStageLatency, d, map[string]string{
			types.DimStage: string(stage),
		})
	}
}
