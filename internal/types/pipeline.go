package types

import (
	"time"
)

// TerminalError captures why an execution reached the Failed state. Kind
// distinguishes caller-actionable validation failures from system faults;
// Fields carries field-level detail for validation failures.
type TerminalError struct {
	Kind    TerminalErrorKind `json:"kind"`
	Message string            `json:"message"`
	Fields  []FieldError      `json:"fields,omitempty"`
}

// StageTimestamps records when each stage was entered, keyed by stage name.
// Persisted as JSONB on the execution row.
type StageTimestamps map[Stage]time.Time

// PipelineExecution is the orchestration record for one report generation run.
// It is created when a run is submitted, mutated only by the Orchestrator
// through the execution repository's atomic state writes, and retained after
// completion for history and audit.
type PipelineExecution struct {
	ID       string `json:"execution_id" db:"id"`
	CountyID string `json:"county_id" db:"county_id"`

	PeriodStart Date `json:"period_start" db:"period_start"`
	PeriodEnd   Date `json:"period_end" db:"period_end"`

	Status   ExecStatus `json:"status" db:"status"`
	Stage    Stage      `json:"current_stage" db:"current_stage"`
	Progress int        `json:"progress" db:"progress"`

	// Warnings accumulate across stages (degraded narratives, missing maps,
	// consistency findings). They never fail the execution.
	Warnings []string `json:"warnings,omitempty" db:"warnings"`

	StageTimestamps StageTimestamps `json:"stage_timestamps,omitempty" db:"stage_timestamps"`

	// CancelRequested is set by the cancel operation and observed by the
	// Orchestrator at the next stage boundary. Cancellation is cooperative;
	// a stage already executing runs to completion before the check.
	CancelRequested bool `json:"-" db:"cancel_requested"`

	TerminalError *TerminalError `json:"terminal_error,omitempty" db:"terminal_error"`

	// Artifact pointers, populated at the persisting stage. Content-addressed
	// by execution id and never overwritten.
	PDFPath    string `json:"pdf_path,omitempty" db:"pdf_path"`
	ReportPath string `json:"report_path,omitempty" db:"report_path"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// EnterStage records a stage transition with its timestamp and checkpoint
// progress. Progress never decreases: a lower checkpoint than the current
// value is ignored.
func (e *PipelineExecution) EnterStage(stage Stage, progress int, at time.Time) {
	e.Stage = stage
	if e.StageTimestamps == nil {
		e.StageTimestamps = StageTimestamps{}
	}
	e.StageTimestamps[stage] = at
	e.SetProgress(progress)
}

// SetProgress raises progress to p, clamped to 0-100. Lower values are
// ignored so polling callers never observe a rollback.
func (e *PipelineExecution) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > e.Progress {
		e.Progress = p
	}
}

// AddWarning appends a warning to the execution's accumulated list.
func (e *PipelineExecution) AddWarning(warning string) {
	e.Warnings = append(e.Warnings, warning)
}

// Terminal reports whether the execution has reached a terminal status.
func (e *PipelineExecution) Terminal() bool {
	return e.Status.Terminal()
}

// ExecutionFilter selects executions for history listings. Zero values mean
// "no filter". Cursor is an opaque pagination token (the created_at + id of
// the last item of the previous page).
type ExecutionFilter struct {
	CountyID string
	Status   ExecStatus
	Limit    int
	Cursor   string
}

// ExecutionStatusView is the polling DTO returned by the status endpoint.
type ExecutionStatusView struct {
	ExecutionID   string         `json:"execution_id"`
	CountyID      string         `json:"county_id"`
	PeriodStart   Date           `json:"period_start"`
	PeriodEnd     Date           `json:"period_end"`
	Status        ExecStatus     `json:"status"`
	Stage         Stage          `json:"current_stage"`
	Progress      int            `json:"progress"`
	Warnings      []string       `json:"warnings"`
	TerminalError *TerminalError `json:"terminal_error,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// StatusView projects the execution into its polling DTO. Warnings is never
// nil in the projection so JSON consumers always see an array.
func (e *PipelineExecution) StatusView() ExecutionStatusView {
	warnings := e.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return ExecutionStatusView{
		ExecutionID:   e.ID,
		CountyID:      e.CountyID,
		PeriodStart:   e.PeriodStart,
		PeriodEnd:     e.PeriodEnd,
		Status:        e.Status,
		Stage:         e.Stage,
		Progress:      e.Progress,
		Warnings:      warnings,
		TerminalError: e.TerminalError,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
	}
}
