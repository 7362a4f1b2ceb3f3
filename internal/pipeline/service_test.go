package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climascope/internal/types"
)

// fakeDispatcher records dispatched submissions.
type fakeDispatcher struct {
	messages []types.SubmissionMessage
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, msg types.SubmissionMessage) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

// recordingListRepo captures the filter the service passes through.
type recordingListRepo struct {
	*fakeExecRepo
	gotFilter types.ExecutionFilter
}

func (r *recordingListRepo) List(ctx context.Context, filter types.ExecutionFilter) ([]*types.PipelineExecution, types.PageInfo, error) {
	r.gotFilter = filter
	return r.fakeExecRepo.List(ctx, filter)
}

type serviceFixture struct {
	*orchestratorFixture
	dispatcher *fakeDispatcher
	svc        *Service
}

func newServiceFixture(t *testing.T, withDispatcher bool) *serviceFixture {
	t.Helper()
	f := &serviceFixture{orchestratorFixture: newFixture(t, nil)}
	cfg := ServiceConfig{
		Executions:              f.repo,
		Orchestrator:            f.orch,
		Artifacts:               f.artifacts,
		Logger:                  slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxConcurrentExecutions: 2,
	}
	if withDispatcher {
		f.dispatcher = &fakeDispatcher{}
		cfg.Dispatcher = f.dispatcher
	}
	f.svc = NewService(cfg)
	return f
}

func validStartRequest(t *testing.T) StartRequest {
	t.Helper()
	return StartRequest{
		CountyID:    "32",
		PeriodStart: types.NewDate(2026, 3, 2),
		PeriodEnd:   types.NewDate(2026, 3, 8),
		Document:    validRawDocument(t),
	}
}

func TestStart_WaitedRunsToCompletion(t *testing.T) {
	f := newServiceFixture(t, false)

	exec, err := f.svc.Start(context.Background(), validStartRequest(t), true)
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCompleted, exec.Status)
	assert.Equal(t, 100, exec.Progress)
	assert.NotEmpty(t, exec.ID)
	assert.NotEmpty(t, exec.PDFPath)

	// The terminal state was persisted, not just returned.
	stored, err := f.repo.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecStatusCompleted, stored.Status)
}

func TestStart_InProcessBackgroundRun(t *testing.T) {
	f := newServiceFixture(t, false)

	exec, err := f.svc.Start(context.Background(), validStartRequest(t), false)
	require.NoError(t, err)
	assert.Equal(t, types.ExecStatusPending, exec.Status)

	assert.Eventually(t, func() bool {
		stored, err := f.repo.Get(context.Background(), exec.ID)
		return err == nil && stored.Status == types.ExecStatusCompleted
	}, 2*time.Second, 10*time.Millisecond, "background run never completed")
}

func TestStart_DispatchesToQueue(t *testing.T) {
	f := newServiceFixture(t, true)

	exec, err := f.svc.Start(context.Background(), validStartRequest(t), false)
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusPending, exec.Status)
	require.Len(t, f.dispatcher.messages, 1)

	msg := f.dispatcher.messages[0]
	assert.Equal(t, exec.ID, msg.ExecutionID)
	assert.Equal(t, "32", msg.CountyID)
	assert.Equal(t, "2026-03-02", msg.PeriodStart.String())
	assert.JSONEq(t, string(validRawDocument(t)), string(msg.Document))

	// The run itself belongs to the worker; nothing executed here.
	_, err = f.artifacts.GetPDF(context.Background(), exec.ID)
	require.Error(t, err)
}

func TestStart_DispatchFailureRejectsSubmission(t *testing.T) {
	f := newServiceFixture(t, true)
	f.dispatcher.err = types.NewAppError(types.ErrCodeInternalQueue, "queue unreachable", nil)

	_, err := f.svc.Start(context.Background(), validStartRequest(t), false)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalQueue, appErr.Code)
}

func TestStart_RejectsMalformedRequests(t *testing.T) {
	f := newServiceFixture(t, false)

	cases := []struct {
		name   string
		mutate func(*StartRequest)
		code   types.ErrorCode
	}{
		{"missing county", func(r *StartRequest) { r.CountyID = "" }, types.ErrCodeValidationMissingField},
		{"missing period", func(r *StartRequest) { r.PeriodStart = types.Date{} }, types.ErrCodeValidationInvalidPeriod},
		{"inverted period", func(r *StartRequest) {
			r.PeriodStart, r.PeriodEnd = r.PeriodEnd, r.PeriodStart
		}, types.ErrCodeValidationInvalidPeriod},
		{"missing document", func(r *StartRequest) { r.Document = nil }, types.ErrCodeValidationMissingField},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validStartRequest(t)
			tc.mutate(&req)

			_, err := f.svc.Start(context.Background(), req, false)
			require.Error(t, err)

			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.code, appErr.Code)
		})
	}
}

func TestStatus_ReturnsPollingView(t *testing.T) {
	f := newServiceFixture(t, false)
	seedExecution(t, f.repo)

	view, err := f.svc.Status(context.Background(), "exec-1")
	require.NoError(t, err)

	assert.Equal(t, "exec-1", view.ExecutionID)
	assert.Equal(t, types.ExecStatusPending, view.Status)
	assert.NotNil(t, view.Warnings, "warnings must serialize as an array")
}

func TestStatus_UnknownExecution(t *testing.T) {
	f := newServiceFixture(t, false)

	_, err := f.svc.Status(context.Background(), "ghost")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundExecution, appErr.Code)
}

func TestCancel_AcknowledgedForRunningExecution(t *testing.T) {
	f := newServiceFixture(t, false)
	seedExecution(t, f.repo)

	acknowledged, err := f.svc.Cancel(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, acknowledged)

	requested, err := f.repo.CancelRequested(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestCancel_AlreadyTerminal(t *testing.T) {
	f := newServiceFixture(t, false)
	exec := seedExecution(t, f.repo)
	exec.Status = types.ExecStatusCompleted
	require.NoError(t, f.repo.Create(context.Background(), exec))

	acknowledged, err := f.svc.Cancel(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.False(t, acknowledged)
}

func TestCancel_UnknownExecution(t *testing.T) {
	f := newServiceFixture(t, false)

	_, err := f.svc.Cancel(context.Background(), "ghost")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundExecution, appErr.Code)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	f := newServiceFixture(t, false)

	_, _, err := f.svc.List(context.Background(), types.ExecutionFilter{Status: "exploded"})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidStatus, appErr.Code)
}

func TestList_ClampsLimit(t *testing.T) {
	repo := &recordingListRepo{fakeExecRepo: newFakeExecRepo()}
	svc := NewService(ServiceConfig{
		Executions: repo,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	_, _, err := svc.List(context.Background(), types.ExecutionFilter{})
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, repo.gotFilter.Limit)

	_, _, err = svc.List(context.Background(), types.ExecutionFilter{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, repo.gotFilter.Limit)
}

func TestPDF_ServesCompletedReport(t *testing.T) {
	f := newServiceFixture(t, false)

	exec, err := f.svc.Start(context.Background(), validStartRequest(t), true)
	require.NoError(t, err)
	require.Equal(t, types.ExecStatusCompleted, exec.Status)

	pdf, err := f.svc.PDF(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-fake"), pdf)
}

func TestPDF_NotAvailableBeforeCompletion(t *testing.T) {
	f := newServiceFixture(t, false)
	seedExecution(t, f.repo)

	_, err := f.svc.PDF(context.Background(), "exec-1")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundArtifact, appErr.Code)
}

func TestPDF_UnknownExecution(t *testing.T) {
	f := newServiceFixture(t, false)

	_, err := f.svc.PDF(context.Background(), "ghost")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundExecution, appErr.Code)
}
