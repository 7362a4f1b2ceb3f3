package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"climascope/internal/types"
)

// ExecutionRepository provides data access for the pipeline_executions table.
// The orchestrator is the only writer of execution state; all state mutations
// go through UpdateState as a single atomic statement so polling readers never
// observe a half-updated record.
type ExecutionRepository struct {
	db DBTX
}

// NewExecutionRepository creates an ExecutionRepository backed by the given
// database connection (pool or transaction).
func NewExecutionRepository(db DBTX) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// execColumns defines the standard set of columns selected for execution
// queries. scanExecution must match this order.
const execColumns = `e.id, e.county_id, e.period_start, e.period_end,
	e.status, e.current_stage, e.progress,
	e.warnings, e.stage_timestamps, e.cancel_requested, e.terminal_error,
	e.pdf_path, e.report_path,
	e.created_at, e.started_at, e.completed_at`

// scanExecution scans a single execution row. The columns must match the
// order defined in execColumns.
func scanExecution(row pgx.Row) (*types.PipelineExecution, error) {
	var exec types.PipelineExecution
	var (
		periodStart     time.Time
		periodEnd       time.Time
		stageTimestamps []byte
		terminalError   []byte
		pdfPath         *string
		reportPath      *string
	)

	err := row.Scan(
		&exec.ID,
		&exec.CountyID,
		&periodStart,
		&periodEnd,
		&exec.Status,
		&exec.Stage,
		&exec.Progress,
		&exec.Warnings,
		&stageTimestamps,
		&exec.CancelRequested,
		&terminalError,
		&pdfPath,
		&reportPath,
		&exec.CreatedAt,
		&exec.StartedAt,
		&exec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.PeriodStart = types.DateOf(periodStart)
	exec.PeriodEnd = types.DateOf(periodEnd)

	if len(stageTimestamps) > 0 {
		if err := json.Unmarshal(stageTimestamps, &exec.StageTimestamps); err != nil {
			return nil, fmt.Errorf("decoding stage_timestamps: %w", err)
		}
	}
	if len(terminalError) > 0 {
		var te types.TerminalError
		if err := json.Unmarshal(terminalError, &te); err != nil {
			return nil, fmt.Errorf("decoding terminal_error: %w", err)
		}
		exec.TerminalError = &te
	}
	if pdfPath != nil {
		exec.PDFPath = *pdfPath
	}
	if reportPath != nil {
		exec.ReportPath = *reportPath
	}

	return &exec, nil
}

// Create inserts a new execution in the Pending state. The caller must set
// the ID (UUID) and period fields before calling.
func (r *ExecutionRepository) Create(ctx context.Context, exec *types.PipelineExecution) error {
	stageTimestamps, err := json.Marshal(exec.StageTimestamps)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode stage timestamps", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO pipeline_executions (
			id, county_id, period_start, period_end,
			status, current_stage, progress,
			warnings, stage_timestamps, cancel_requested,
			created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, FALSE,
			COALESCE($10, NOW())
		)`,
		exec.ID,
		exec.CountyID,
		exec.PeriodStart.Time,
		exec.PeriodEnd.Time,
		exec.Status,
		exec.Stage,
		exec.Progress,
		exec.Warnings,
		stageTimestamps,
		nilIfZeroTime(exec.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create execution", err)
	}
	return nil
}

// Get retrieves an execution by id. Returns ErrCodeNotFoundExecution if no
// row matches.
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*types.PipelineExecution, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+execColumns+`
		 FROM pipeline_executions e
		 WHERE e.id = $1`,
		id,
	)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundExecution, "execution not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve execution", err)
	}
	return exec, nil
}

// UpdateState writes the execution's full mutable state in one statement.
// Status, stage, progress, warnings, timestamps, terminal error and artifact
// pointers are all updated together so a concurrent status poll sees either
// the old record or the new one, never a mixture.
func (r *ExecutionRepository) UpdateState(ctx context.Context, exec *types.PipelineExecution) error {
	stageTimestamps, err := json.Marshal(exec.StageTimestamps)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode stage timestamps", err)
	}

	var terminalError []byte
	if exec.TerminalError != nil {
		terminalError, err = json.Marshal(exec.TerminalError)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to encode terminal error", err)
		}
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE pipeline_executions SET
			status = $1,
			current_stage = $2,
			progress = $3,
			warnings = $4,
			stage_timestamps = $5,
			terminal_error = $6,
			pdf_path = $7,
			report_path = $8,
			started_at = $9,
			completed_at = $10
		 WHERE id = $11`,
		exec.Status,
		exec.Stage,
		exec.Progress,
		exec.Warnings,
		stageTimestamps,
		terminalError,
		nilIfEmpty(exec.PDFPath),
		nilIfEmpty(exec.ReportPath),
		exec.StartedAt,
		exec.CompletedAt,
		exec.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update execution state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundExecution, "execution not found", nil)
	}
	return nil
}

// RequestCancel sets the cancel-requested flag on a non-terminal execution.
// Returns false when the execution is already terminal; the flag is not set
// in that case. The terminal check and the flag write happen in a single
// statement so a concurrent completion cannot be overwritten.
func (r *ExecutionRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pipeline_executions SET
			cancel_requested = TRUE
		 WHERE id = $1
		   AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to request cancellation", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelRequested reads the current cancel-requested flag. The orchestrator
// calls this at stage boundaries.
func (r *ExecutionRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx,
		`SELECT cancel_requested FROM pipeline_executions WHERE id = $1`,
		id,
	).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, types.NewAppError(types.ErrCodeNotFoundExecution, "execution not found", nil)
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to read cancellation flag", err)
	}
	return requested, nil
}

// List retrieves executions matching the filter, newest first, with
// cursor-based pagination. Uses the limit+1 fetch strategy to determine
// HasMore without a separate COUNT query.
func (r *ExecutionRepository) List(ctx context.Context, filter types.ExecutionFilter) ([]*types.PipelineExecution, types.PageInfo, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var conditions []string
	var args []any
	argIdx := 1

	if filter.CountyID != "" {
		conditions = append(conditions, fmt.Sprintf("e.county_id = $%d", argIdx))
		args = append(args, filter.CountyID)
		argIdx++
	}

	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationInvalidStatus,
				"unknown status filter value",
				nil,
			)
		}
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	// Cursor-based pagination: fetch items strictly after the cursor row in
	// the (created_at, id) descending order, so rows sharing a timestamp are
	// never skipped across pages.
	if filter.Cursor != "" {
		cursorTime, cursorID, err := decodeListCursor(filter.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationInvalidJSON,
				"invalid cursor format",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("(e.created_at, e.id) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, cursorTime, cursorID)
		argIdx += 2
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Fetch limit+1 to detect if there are more results.
	query := fmt.Sprintf(
		`SELECT %s
		 FROM pipeline_executions e
		 %s
		 ORDER BY e.created_at DESC, e.id DESC
		 LIMIT $%d`,
		execColumns,
		whereClause,
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list executions", err)
	}
	defer rows.Close()

	var results []*types.PipelineExecution
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan execution row", scanErr)
		}
		results = append(results, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating execution rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = encodeListCursor(results[limit-1])
		results = results[:limit]
	}

	return results, pageInfo, nil
}

// encodeListCursor builds the opaque pagination token from the last row of a
// page: its created_at and id, separated by a pipe.
func encodeListCursor(exec *types.PipelineExecution) string {
	return exec.CreatedAt.Format(time.RFC3339Nano) + "|" + exec.ID
}

// decodeListCursor parses a token produced by encodeListCursor.
func decodeListCursor(cursor string) (time.Time, string, error) {
	ts, id, found := strings.Cut(cursor, "|")
	if !found || id == "" {
		return time.Time{}, "", fmt.Errorf("cursor %q is missing the id component", cursor)
	}
	cursorTime, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("cursor timestamp: %w", err)
	}
	return cursorTime, id, nil
}

// nilIfEmpty returns nil for empty strings so nullable columns store NULL
// instead of "".
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime returns nil for zero times so COALESCE defaults can apply.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
