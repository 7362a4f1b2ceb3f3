package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climascope/internal/types"
)

// fakeExecRepo is an in-memory ExecutionRepository that records every state
// write so tests can assert on the observable progress sequence.
type fakeExecRepo struct {
	mu          sync.Mutex
	execs       map[string]*types.PipelineExecution
	cancelFlags map[string]bool

	// cancelOnStage makes CancelRequested report true once the execution has
	// entered the given stage, simulating a cancel racing the pipeline.
	cancelOnStage types.Stage

	progressLog []int
	stageLog    []types.Stage
}

func newFakeExecRepo() *fakeExecRepo {
	return &fakeExecRepo{
		execs:       map[string]*types.PipelineExecution{},
		cancelFlags: map[string]bool{},
	}
}

func (r *fakeExecRepo) Create(_ context.Context, exec *types.PipelineExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.execs[exec.ID] = &cp
	return nil
}

func (r *fakeExecRepo) Get(_ context.Context, id string) (*types.PipelineExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.execs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundExecution, "execution not found", nil)
	}
	cp := *exec
	return &cp, nil
}

func (r *fakeExecRepo) UpdateState(_ context.Context, exec *types.PipelineExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.execs[exec.ID] = &cp
	r.progressLog = append(r.progressLog, exec.Progress)
	r.stageLog = append(r.stageLog, exec.Stage)
	return nil
}

func (r *fakeExecRepo) RequestCancel(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.execs[id]
	if !ok || exec.Terminal() {
		return false, nil
	}
	r.cancelFlags[id] = true
	return true, nil
}

func (r *fakeExecRepo) CancelRequested(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelFlags[id] {
		return true, nil
	}
	if r.cancelOnStage != "" {
		if exec, ok := r.execs[id]; ok && exec.Stage == r.cancelOnStage {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeExecRepo) List(context.Context, types.ExecutionFilter) ([]*types.PipelineExecution, types.PageInfo, error) {
	return nil, types.PageInfo{}, nil
}

// fakeCountyRepo knows a fixed set of county ids.
type fakeCountyRepo struct {
	known map[string]bool
}

func (r *fakeCountyRepo) Get(_ context.Context, id string) (*types.County, error) {
	if !r.known[id] {
		return nil, types.NewAppError(types.ErrCodeNotFoundCounty, "county not found", nil)
	}
	return &types.County{ID: id, Name: "Nakuru"}, nil
}

func (r *fakeCountyRepo) List(context.Context) ([]*types.County, error)        { return nil, nil }
func (r *fakeCountyRepo) Create(context.Context, *types.County) error          { return nil }
func (r *fakeCountyRepo) Update(context.Context, *types.County) error          { return nil }
func (r *fakeCountyRepo) Delete(context.Context, string) error                 { return nil }

// fakeGenerator returns canned prose, optionally marking sections as
// fallbacks with warnings. It counts invocations so tests can assert that a
// failed validation never reaches the provider chain.
type fakeGenerator struct {
	fallback bool

	mu    sync.Mutex
	calls int
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGenerator) Generate(_ context.Context, _ *types.WeatherDataDocument, sectionID types.SectionID) (types.Narrative, []string) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.fallback {
		return types.Narrative{
			SectionID: sectionID, Text: "templated", Provider: "fallback", Fallback: true,
		}, []string{"all narrative providers failed for section " + string(sectionID) + "; templated fallback used"}
	}
	return types.Narrative{SectionID: sectionID, Text: "prose", Provider: "openai"}, nil
}

// fakeMapStore resolves every key as found unless missing is set, counting
// lookups.
type fakeMapStore struct {
	missing  bool
	storeErr error

	mu       sync.Mutex
	resolves int
}

func (s *fakeMapStore) resolveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolves
}

func (s *fakeMapStore) Resolve(_ context.Context, key types.MapKey) (types.MapReference, error) {
	s.mu.Lock()
	s.resolves++
	s.mu.Unlock()
	if s.storeErr != nil {
		return types.MapReference{}, s.storeErr
	}
	if s.missing {
		return types.MissingMap(key, "no map stored"), nil
	}
	return types.FoundMap(key, "/maps/"+key.String()+".png", &types.MapMetadata{Format: types.MapFormatPNG}), nil
}

func (s *fakeMapStore) Store(context.Context, types.MapKey, []byte, types.MapMetadata, bool) (types.MapReference, error) {
	return types.MapReference{}, nil
}

func (s *fakeMapStore) List(context.Context, string) ([]types.MapMetadata, error) { return nil, nil }

// fakeRenderer emits a fixed payload or a configured error.
type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(*types.CompleteReport) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-fake"), nil
}

// fakeArtifactStore records saves in memory.
type fakeArtifactStore struct {
	mu      sync.Mutex
	pdfs    map[string][]byte
	reports map[string]*types.CompleteReport
	saveErr error
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{pdfs: map[string][]byte{}, reports: map[string]*types.CompleteReport{}}
}

func (s *fakeArtifactStore) SavePDF(_ context.Context, id string, pdf []byte) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pdfs[id] = pdf
	return "/artifacts/" + id + "/report.pdf", nil
}

func (s *fakeArtifactStore) SaveCompleteReport(_ context.Context, id string, report *types.CompleteReport) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[id] = report
	return "/artifacts/" + id + "/report.json.gz", nil
}

func (s *fakeArtifactStore) GetPDF(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pdf, ok := s.pdfs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundArtifact, "no pdf", nil)
	}
	return pdf, nil
}

func (s *fakeArtifactStore) GetCompleteReport(_ context.Context, id string) (*types.CompleteReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundArtifact, "no report", nil)
	}
	return report, nil
}

func validRawDocument(t *testing.T) []byte {
	t.Helper()
	doc := map[string]any{
		"schema_version": "1.2",
		"county_id":      "32",
		"county_name":    "Nakuru",
		"period": map[string]any{
			"start": "2026-03-02", "end": "2026-03-08", "week_number": 10, "year": 2026,
		},
		"variables": map[string]any{
			"temperature": map[string]any{
				"weekly":     map[string]any{"min": 12.5, "max": 27.8, "mean": 19.4},
				"daily_mean": []float64{18.2, 19.1, 20.3, 19.8, 18.9, 19.5, 20.1},
			},
			"rainfall": map[string]any{
				"weekly": map[string]any{"total": 46.5, "max_intensity": 18.2, "rainy_days": 4},
				"daily":  []float64{0, 12.5, 18.2, 8.8, 0, 4.5, 2.5},
			},
			"wind": map[string]any{
				"weekly":     map[string]any{"mean_speed": 14.2, "max_gust": 38.5, "dominant_direction": "SE"},
				"daily_peak": []float64{22.1, 25.4, 38.5, 30.2, 18.7, 21.3, 24.8},
			},
		},
		"wards": []map[string]any{
			{"ward_id": "3201", "name": "Biashara", "rainfall_total": 42.1, "mean_temperature": 19.2, "peak_wind": 35.4},
		},
		"metadata": map[string]any{
			"data_source": "KMD synoptic stations", "generated_at": "2026-03-01T09:15:00Z",
		},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

type orchestratorFixture struct {
	repo      *fakeExecRepo
	counties  *fakeCountyRepo
	generator *fakeGenerator
	maps      *fakeMapStore
	renderer  *fakeRenderer
	artifacts *fakeArtifactStore
	orch      *Orchestrator
}

func newFixture(t *testing.T, mutate func(*orchestratorFixture) OrchestratorConfig) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		repo:      newFakeExecRepo(),
		counties:  &fakeCountyRepo{known: map[string]bool{"32": true}},
		generator: &fakeGenerator{},
		maps:      &fakeMapStore{},
		renderer:  &fakeRenderer{},
		artifacts: newFakeArtifactStore(),
	}

	cfg := OrchestratorConfig{
		Executions:            f.repo,
		Counties:              f.counties,
		Generator:             f.generator,
		Maps:                  f.maps,
		Renderer:              f.renderer,
		Artifacts:             f.artifacts,
		Logger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxConcurrentSections: 3,
	}
	if mutate != nil {
		cfg = mutate(f)
	}
	f.orch = NewOrchestrator(cfg)
	return f
}

func defaultConfig(f *orchestratorFixture) OrchestratorConfig {
	return OrchestratorConfig{
		Executions:            f.repo,
		Counties:              f.counties,
		Generator:             f.generator,
		Maps:                  f.maps,
		Renderer:              f.renderer,
		Artifacts:             f.artifacts,
		Logger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxConcurrentSections: 3,
	}
}

func seedExecution(t *testing.T, repo *fakeExecRepo) *types.PipelineExecution {
	t.Helper()
	exec := &types.PipelineExecution{
		ID:          "exec-1",
		CountyID:    "32",
		PeriodStart: types.NewDate(2026, 3, 2),
		PeriodEnd:   types.NewDate(2026, 3, 8),
		Status:      types.ExecStatusPending,
		Stage:       types.StagePending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), exec))
	return exec
}

func TestRun_HappyPathCompletes(t *testing.T) {
	f := newFixture(t, nil)
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCompleted, exec.Status)
	assert.Equal(t, types.StageCompleted, exec.Stage)
	assert.Equal(t, 100, exec.Progress)
	assert.Empty(t, exec.Warnings)
	assert.Nil(t, exec.TerminalError)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, "/artifacts/exec-1/report.pdf", exec.PDFPath)
	assert.Equal(t, "/artifacts/exec-1/report.json.gz", exec.ReportPath)

	// Artifacts were persisted.
	pdf, err := f.artifacts.GetPDF(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-fake"), pdf)

	complete, err := f.artifacts.GetCompleteReport(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, complete.Sections, len(types.SectionOrder))
	assert.Len(t, complete.Narratives, len(types.NarrativeSections))

	// Every stage was entered and timestamped.
	for _, stage := range []types.Stage{
		types.StageValidating, types.StageGeneratingNarratives, types.StageResolvingMaps,
		types.StageAssembling, types.StageRendering, types.StagePersisting, types.StageCompleted,
	} {
		_, ok := exec.StageTimestamps[stage]
		assert.True(t, ok, "missing timestamp for stage %s", stage)
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	seedExecution(t, f.repo)

	_, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	require.NotEmpty(t, f.repo.progressLog)
	prev := -1
	for i, p := range f.repo.progressLog {
		assert.GreaterOrEqual(t, p, prev, "progress regressed at write %d: %v", i, f.repo.progressLog)
		prev = p
	}
	assert.Equal(t, 100, f.repo.progressLog[len(f.repo.progressLog)-1])

	// The stage completion checkpoints all appear in the write sequence.
	seen := map[int]bool{}
	for _, p := range f.repo.progressLog {
		seen[p] = true
	}
	for _, checkpoint := range []int{
		types.ProgressValidated, types.ProgressNarrativesDone, types.ProgressMapsResolved,
		types.ProgressAssembled, types.ProgressRendered, types.ProgressPersisted, types.ProgressCompleted,
	} {
		assert.True(t, seen[checkpoint], "checkpoint %d never persisted: %v", checkpoint, f.repo.progressLog)
	}
}

func TestRun_InvalidDocumentFailsValidation(t *testing.T) {
	f := newFixture(t, nil)
	seedExecution(t, f.repo)

	raw := []byte(`{"schema_version": "1.2", "county_id": "32"}`)
	exec, err := f.orch.Run(context.Background(), "exec-1", raw)
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	assert.Equal(t, types.StageFailed, exec.Stage)
	require.NotNil(t, exec.TerminalError)
	assert.Equal(t, types.TerminalErrorValidation, exec.TerminalError.Kind)
	assert.NotEmpty(t, exec.TerminalError.Fields)
	assert.Empty(t, exec.PDFPath)

	// Fail-fast: nothing downstream of validation may have run.
	assert.Zero(t, f.generator.callCount())
	assert.Zero(t, f.maps.resolveCount())
}

func TestRun_MalformedJSONFailsValidation(t *testing.T) {
	f := newFixture(t, nil)
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", []byte("{not json"))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	require.NotNil(t, exec.TerminalError)
	assert.Equal(t, types.TerminalErrorValidation, exec.TerminalError.Kind)
	assert.Zero(t, f.generator.callCount())
	assert.Zero(t, f.maps.resolveCount())
}

func TestRun_UnknownCountyFailsValidation(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.counties = &fakeCountyRepo{known: map[string]bool{}}
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	require.NotNil(t, exec.TerminalError)
	assert.Equal(t, types.TerminalErrorValidation, exec.TerminalError.Kind)
	assert.Contains(t, exec.TerminalError.Message, "not registered")
	assert.Zero(t, f.generator.callCount())
	assert.Zero(t, f.maps.resolveCount())
}

func TestRun_CountyMismatchFailsValidation(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.counties = &fakeCountyRepo{known: map[string]bool{"32": true, "47": true}}
		return defaultConfig(f)
	})
	exec := seedExecution(t, f.repo)
	exec.CountyID = "47"
	require.NoError(t, f.repo.Create(context.Background(), exec))

	result, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, result.Status)
	require.NotNil(t, result.TerminalError)
	assert.Equal(t, types.TerminalErrorValidation, result.TerminalError.Kind)
	assert.Contains(t, result.TerminalError.Message, "does not match")
}

func TestRun_MissingMapDegradesWithWarning(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.maps = &fakeMapStore{missing: true}
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCompleted, exec.Status)
	require.Len(t, exec.Warnings, len(types.AllVariables))
	assert.Contains(t, exec.Warnings[0], "map missing")
}

func TestRun_MissingMapFailsInStrictMode(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.maps = &fakeMapStore{missing: true}
		cfg := defaultConfig(f)
		cfg.StrictMaps = true
		return cfg
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	require.NotNil(t, exec.TerminalError)
	assert.Contains(t, exec.TerminalError.Message, "required map missing")
}

func TestRun_FallbackNarrativesStillComplete(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.generator = &fakeGenerator{fallback: true}
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCompleted, exec.Status)
	assert.Len(t, exec.Warnings, len(types.NarrativeSections))

	complete, err := f.artifacts.GetCompleteReport(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, len(types.NarrativeSections), complete.Narratives.FallbackCount())
}

func TestRun_RenderFailure(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.renderer = &fakeRenderer{err: types.NewAppError(types.ErrCodeInternalRender, "corrupt image", nil)}
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	require.NotNil(t, exec.TerminalError)
	assert.Equal(t, types.TerminalErrorRender, exec.TerminalError.Kind)
}

func TestRun_StorageFailure(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.artifacts.saveErr = types.NewAppError(types.ErrCodeConflictArtifactExists, "artifact exists", nil)
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	require.NotNil(t, exec.TerminalError)
	assert.Equal(t, types.TerminalErrorStorage, exec.TerminalError.Kind)
}

func TestRun_CancelBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	seedExecution(t, f.repo)
	ok, err := f.repo.RequestCancel(context.Background(), "exec-1")
	require.NoError(t, err)
	require.True(t, ok)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCancelled, exec.Status)
	assert.Equal(t, types.StageCancelled, exec.Stage)
	assert.Nil(t, exec.TerminalError)
	assert.NotNil(t, exec.CompletedAt)
}

func TestRun_CancelAtStageBoundary(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.repo.cancelOnStage = types.StageGeneratingNarratives
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	// Narratives ran to completion; the cancel took effect at the next
	// boundary, before map resolution.
	assert.Equal(t, types.ExecStatusCancelled, exec.Status)
	assert.Equal(t, types.StageCancelled, exec.Stage)
	assert.GreaterOrEqual(t, exec.Progress, types.ProgressNarrativesDone)
	_, resolvedMaps := exec.StageTimestamps[types.StageResolvingMaps]
	assert.False(t, resolvedMaps, "map stage should never have been entered")
}

func TestRun_TerminalExecutionIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	exec := seedExecution(t, f.repo)
	exec.Status = types.ExecStatusCompleted
	exec.Stage = types.StageCompleted
	exec.Progress = 100
	require.NoError(t, f.repo.Create(context.Background(), exec))

	got, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCompleted, got.Status)
	assert.Empty(t, f.repo.progressLog, "no state writes for terminal execution")
}

func TestRun_UnknownExecution(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Run(context.Background(), "ghost", validRawDocument(t))
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundExecution, appErr.Code)
}

func TestRun_MapStoreFaultIsInternal(t *testing.T) {
	f := newFixture(t, func(f *orchestratorFixture) OrchestratorConfig {
		f.maps = &fakeMapStore{storeErr: errors.New("disk on fire")}
		return defaultConfig(f)
	})
	seedExecution(t, f.repo)

	exec, err := f.orch.Run(context.Background(), "exec-1", validRawDocument(t))
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusFailed, exec.Status)
	require.NotNil(t, exec.TerminalError)
	assert.Equal(t, types.TerminalErrorInternal, exec.TerminalError.Kind)
}

func TestRun_SchemaWarningsPropagate(t *testing.T) {
	f := newFixture(t, nil)
	seedExecution(t, f.repo)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(validRawDocument(t), &doc))
	doc["schema_version"] = "1.9"
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	exec, err := f.orch.Run(context.Background(), "exec-1", raw)
	require.NoError(t, err)

	assert.Equal(t, types.ExecStatusCompleted, exec.Status)
	found := false
	for _, w := range exec.Warnings {
		if strings.Contains(w, "1.9") {
			found = true
		}
	}
	assert.True(t, found, "expected a schema version warning in %v", exec.Warnings)
}
