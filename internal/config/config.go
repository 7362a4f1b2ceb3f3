// Package config defines the global configuration structure for the ClimaScope
// report service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved from the OS environment, with a .env file as a local
// development convenience. Any missing required value or invalid format causes
// the application to fail immediately on startup.
package config

import (
	"time"

	"climascope/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the ClimaScope service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"climascope"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Narrative NarrativeConfig
	Maps      MapsConfig
	Artifacts ArtifactsConfig
	Pipeline  PipelineConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// ReportQueueURL is optional: when empty, submissions run in-process instead
// of being dispatched to the report worker.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	ReportQueueURL string `envconfig:"SQS_REPORT_QUEUE" validate:"omitempty,url"`
	MetricsEnabled bool   `envconfig:"CLOUDWATCH_METRICS_ENABLED" default:"false"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// NarrativeConfig holds AI narrative provider configuration. Providers lists
// the ordered fallback chain; each named provider must have a key configured.
type NarrativeConfig struct {
	// Providers is the ordered fallback list, e.g. "openai,anthropic".
	Providers []string `envconfig:"NARRATIVE_PROVIDERS" default:"openai,anthropic"`

	OpenAIKey      SecretString `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string       `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel    string       `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	AnthropicKey   SecretString `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicURL   string       `envconfig:"ANTHROPIC_BASE_URL"`
	AnthropicModel string       `envconfig:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-latest"`

	// CallTimeout bounds a single provider call.
	CallTimeout time.Duration `envconfig:"NARRATIVE_CALL_TIMEOUT" default:"30s"`

	// MaxConcurrent bounds per-execution section fan-out, protecting provider
	// rate limits.
	MaxConcurrent int `envconfig:"NARRATIVE_MAX_CONCURRENT" default:"3" validate:"min=1"`
}

// MapsConfig holds the filesystem map store configuration.
type MapsConfig struct {
	BasePath       string `envconfig:"MAPS_BASE_PATH" default:"data/maps"`
	MaxUploadBytes int64  `envconfig:"MAPS_MAX_UPLOAD_BYTES" default:"10485760"` // 10 MB
}

// ArtifactsConfig holds the artifact store configuration.
type ArtifactsConfig struct {
	BasePath string `envconfig:"ARTIFACTS_BASE_PATH" default:"data/artifacts"`
}

// PipelineConfig holds orchestrator tuning parameters.
type PipelineConfig struct {
	// StrictMaps escalates a missing map to execution failure. Default is the
	// always-degrade behavior (placeholder + warning).
	StrictMaps bool `envconfig:"PIPELINE_STRICT_MAPS" default:"false"`

	// MaxConcurrentExecutions bounds how many pipelines the API process runs
	// at once when no report queue is configured.
	MaxConcurrentExecutions int `envconfig:"PIPELINE_MAX_CONCURRENT" default:"8" validate:"min=1"`
}

// BuildInfo carries compile-time version metadata.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}
