package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricPipelineStarted    = "PipelineStarted"
	MetricPipelineCompleted  = "PipelineCompleted"
	MetricPipelineFailed     = "PipelineFailed"
	MetricPipelineCancelled  = "PipelineCancelled"
	MetricStageLatency       = "StageLatency"
	MetricNarrativeFallback  = "NarrativeFallback"
	MetricNarrativeCacheHit  = "NarrativeCacheHit"
	MetricMapMissing         = "MapMissing"
	MetricProviderFailure    = "ProviderFailure"
	MetricAPILatency         = "APILatency"
	MetricAPIRequestCount    = "APIRequestCount"

	// Dimension Keys
	DimCounty   = "County"
	DimStage    = "Stage"
	DimProvider = "Provider"
	DimSection  = "Section"
	DimVariable = "Variable"
	DimEndpoint = "Endpoint"

	// Metric Namespace
	MetricNamespace = "ClimaScope"
)
