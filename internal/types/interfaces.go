package types

import (
	"context"
	"time"
)

// ExecutionRepository defines the data access interface for pipeline
// executions. The Orchestrator is the only writer; status and history readers
// may live in any process.
type ExecutionRepository interface {
	// Create inserts a new execution in the Pending state.
	Create(ctx context.Context, exec *PipelineExecution) error

	// Get returns the execution by id, or a not_found_execution AppError.
	Get(ctx context.Context, id string) (*PipelineExecution, error)

	// UpdateState writes the execution's full mutable state (status, stage,
	// progress, warnings, timestamps, terminal error, artifact pointers) in a
	// single atomic statement so polling readers never observe a half-updated
	// record.
	UpdateState(ctx context.Context, exec *PipelineExecution) error

	// RequestCancel sets the cancel-requested flag. Returns false when the
	// execution is already terminal (the flag is not set in that case).
	RequestCancel(ctx context.Context, id string) (bool, error)

	// CancelRequested reads the current cancel-requested flag. Used by the
	// Orchestrator at stage boundaries.
	CancelRequested(ctx context.Context, id string) (bool, error)

	// List returns executions matching the filter, most recent first.
	List(ctx context.Context, filter ExecutionFilter) ([]*PipelineExecution, PageInfo, error)
}

// CountyRepository defines the data access interface for county reference data.
type CountyRepository interface {
	Get(ctx context.Context, id string) (*County, error)
	List(ctx context.Context) ([]*County, error)
	Create(ctx context.Context, county *County) error
	Update(ctx context.Context, county *County) error
	Delete(ctx context.Context, id string) error
}

// MapStore resolves and stores map images keyed by (county, variable, period).
// Resolve never fails the caller on absence: a missing map is reported through
// the MapReference, not an error.
type MapStore interface {
	// Resolve looks up a stored map. The returned reference is Found or
	// Missing; the error is reserved for store faults (I/O errors).
	Resolve(ctx context.Context, key MapKey) (MapReference, error)

	// Store writes a map image with its metadata. Writes are idempotent:
	// re-storing identical bytes under the same key succeeds; differing bytes
	// under an existing key are rejected unless overwrite is set.
	Store(ctx context.Context, key MapKey, image []byte, meta MapMetadata, overwrite bool) (MapReference, error)

	// List returns metadata for all maps stored for a county.
	List(ctx context.Context, countyID string) ([]MapMetadata, error)
}

// ArtifactStore persists the final PDF and the intermediate complete-report
// document, addressable by execution id. Artifacts are write-once.
type ArtifactStore interface {
	SavePDF(ctx context.Context, executionID string, pdf []byte) (string, error)
	SaveCompleteReport(ctx context.Context, executionID string, report *CompleteReport) (string, error)
	GetPDF(ctx context.Context, executionID string) ([]byte, error)
	GetCompleteReport(ctx context.Context, executionID string) (*CompleteReport, error)
}

// NarrativeProvider is the closed interface implemented by each external AI
// text provider. Providers receive a fully rendered prompt; templating,
// caching, and fallback selection live in the narrative generator.
type NarrativeProvider interface {
	// Name identifies the provider in narratives and warnings.
	Name() string

	// Generate produces prose for one section. Implementations bound the call
	// with the context deadline and map transport failures to upstream_*
	// AppErrors.
	Generate(ctx context.Context, sectionID SectionID, prompt string) (string, error)
}

// ReportDispatcher enqueues a submission for asynchronous processing.
type ReportDispatcher interface {
	Dispatch(ctx context.Context, msg SubmissionMessage) error
}

// MetricsCollector records service telemetry. Implementations publish to
// CloudWatch or discard (no-op) when telemetry is not configured.
type MetricsCollector interface {
	// Count increments a counter metric by one with the given dimensions.
	Count(ctx context.Context, metric string, dims map[string]string)

	// Duration records a latency metric in milliseconds.
	Duration(ctx context.Context, metric string, d time.Duration, dims map[string]string)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
