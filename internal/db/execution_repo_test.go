package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"climascope/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

type mockRows struct {
	scanFns []func(dest ...any) error
	idx     int
	closed  bool
	errVal  error
}

func newMockRows(scanFns ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFns: scanFns, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.scanFns)
}

func (r *mockRows) Scan(dest ...any) error {
	return r.scanFns[r.idx](dest...)
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// scanExecutionRow produces a scan function that populates an execution row
// in execColumns order.
func scanExecutionRow(id string, status types.ExecStatus, createdAt time.Time) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id                          // id
		*dest[1].(*string) = "32"                        // county_id
		*dest[2].(*time.Time) = createdAt                // period_start
		*dest[3].(*time.Time) = createdAt.AddDate(0, 0, 6) // period_end
		*dest[4].(*types.ExecStatus) = status            // status
		*dest[5].(*types.Stage) = types.StageValidating  // current_stage
		*dest[6].(*int) = 10                             // progress
		*dest[7].(*[]string) = []string{}                // warnings
		*dest[8].(*[]byte) = nil                         // stage_timestamps
		*dest[9].(*bool) = false                         // cancel_requested
		*dest[10].(*[]byte) = nil                        // terminal_error
		*dest[11].(**string) = nil                       // pdf_path
		*dest[12].(**string) = nil                       // report_path
		*dest[13].(*time.Time) = createdAt               // created_at
		*dest[14].(**time.Time) = nil                    // started_at
		*dest[15].(**time.Time) = nil                    // completed_at
		return nil
	}
}

// ============================================================
// Create Tests
// ============================================================

func TestExecutionRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	exec := &types.PipelineExecution{
		ID:          "ex_123",
		CountyID:    "32",
		PeriodStart: types.NewDate(2026, 3, 2),
		PeriodEnd:   types.NewDate(2026, 3, 8),
		Status:      types.ExecStatusPending,
		Stage:       types.StagePending,
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(ctx, exec)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestExecutionRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Create(ctx, &types.PipelineExecution{ID: "ex_err"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	db.AssertExpectations(t)
}

// ============================================================
// Get Tests
// ============================================================

func TestExecutionRepository_Get_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	row := &mockRow{scanFn: scanExecutionRow("ex_123", types.ExecStatusRunning, created)}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"ex_123"}).Return(row)

	exec, err := repo.Get(ctx, "ex_123")
	require.NoError(t, err)
	assert.Equal(t, "ex_123", exec.ID)
	assert.Equal(t, "32", exec.CountyID)
	assert.Equal(t, types.ExecStatusRunning, exec.Status)
	assert.Equal(t, "2026-03-02", exec.PeriodStart.String())
	assert.Equal(t, "2026-03-08", exec.PeriodEnd.String())
	db.AssertExpectations(t)
}

func TestExecutionRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"ex_missing"}).Return(row)

	_, err := repo.Get(ctx, "ex_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundExecution, appErr.Code)
	db.AssertExpectations(t)
}

// ============================================================
// UpdateState Tests
// ============================================================

func TestExecutionRepository_UpdateState_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	exec := &types.PipelineExecution{
		ID:       "ex_123",
		Status:   types.ExecStatusRunning,
		Stage:    types.StageGeneratingNarratives,
		Progress: 40,
		Warnings: []string{"narrative for advisories used fallback text"},
		StageTimestamps: types.StageTimestamps{
			types.StageValidating: now,
		},
		StartedAt: &now,
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdateState(ctx, exec)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestExecutionRepository_UpdateState_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateState(ctx, &types.PipelineExecution{ID: "ex_missing"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundExecution, appErr.Code)
	db.AssertExpectations(t)
}

// ============================================================
// RequestCancel Tests
// ============================================================

func TestExecutionRepository_RequestCancel_SetsFlag(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"ex_123"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	ok, err := repo.RequestCancel(ctx, "ex_123")
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}

func TestExecutionRepository_RequestCancel_TerminalExecution(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	// The WHERE clause excludes terminal statuses, so no rows are affected.
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"ex_done"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	ok, err := repo.RequestCancel(ctx, "ex_done")
	require.NoError(t, err)
	assert.False(t, ok)
	db.AssertExpectations(t)
}

func TestExecutionRepository_CancelRequested(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	row := &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = true
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"ex_123"}).Return(row)

	requested, err := repo.CancelRequested(ctx, "ex_123")
	require.NoError(t, err)
	assert.True(t, requested)
	db.AssertExpectations(t)
}

// ============================================================
// List Tests
// ============================================================

func TestExecutionRepository_List_Pagination(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	// Three rows returned for limit=2 means HasMore.
	rows := newMockRows(
		scanExecutionRow("ex_3", types.ExecStatusCompleted, base.Add(2*time.Hour)),
		scanExecutionRow("ex_2", types.ExecStatusCompleted, base.Add(time.Hour)),
		scanExecutionRow("ex_1", types.ExecStatusCompleted, base),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	results, pageInfo, err := repo.List(ctx, types.ExecutionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.True(t, pageInfo.HasMore)
	assert.Equal(t, base.Add(time.Hour).Format(time.RFC3339Nano)+"|ex_2", pageInfo.NextCursor)
	db.AssertExpectations(t)
}

func TestExecutionRepository_List_CursorTieBreaksOnID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var gotSQL string
	var gotArgs []any
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Run(func(args mock.Arguments) {
			gotSQL = args.Get(1).(string)
			gotArgs = args.Get(2).([]any)
		}).
		Return(newMockRows(), nil)

	cursor := base.Format(time.RFC3339Nano) + "|ex_2"
	_, _, err := repo.List(ctx, types.ExecutionFilter{Limit: 2, Cursor: cursor})
	require.NoError(t, err)

	// The page boundary compares (created_at, id), not created_at alone, so
	// rows created in the same instant as the cursor row are not skipped.
	assert.Contains(t, gotSQL, "(e.created_at, e.id) <")
	assert.Contains(t, gotSQL, "ORDER BY e.created_at DESC, e.id DESC")
	require.Len(t, gotArgs, 3)
	require.IsType(t, time.Time{}, gotArgs[0])
	assert.True(t, base.Equal(gotArgs[0].(time.Time)))
	assert.Equal(t, "ex_2", gotArgs[1])
	db.AssertExpectations(t)
}

func TestExecutionRepository_List_CursorWithoutID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)

	cursor := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	_, _, err := repo.List(context.Background(), types.ExecutionFilter{Cursor: cursor})
	require.Error(t, err)
}

func TestExecutionRepository_List_InvalidStatusFilter(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)

	_, _, err := repo.List(context.Background(), types.ExecutionFilter{Status: "archived"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidStatus, appErr.Code)
}

func TestExecutionRepository_List_InvalidCursor(t *testing.T) {
	db := new(mockDBTX)
	repo := NewExecutionRepository(db)

	_, _, err := repo.List(context.Background(), types.ExecutionFilter{Cursor: "not-a-timestamp"})
	require.Error(t, err)
}
