// loader.go implements the configuration loading lifecycle for the ClimaScope
// service.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator, plus cross-field
//     checks that struct tags cannot express (provider keys, chain order).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType classifies configuration failures for diagnostics.
type ConfigErrorType string

const (
	// ErrParsing indicates envconfig failed to parse an environment value.
	ErrParsing ConfigErrorType = "parsing"
	// ErrValidation indicates the populated struct failed validation.
	ErrValidation ConfigErrorType = "validation"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// envLookup matches the signature of os.LookupEnv and allows injection for
// testing without mutating global state.
type envLookup func(key string) (string, bool)

// LoadConfig loads and validates the ClimaScope configuration.
//
// It performs the following steps in order:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present (non-fatal if missing).
//  3. Processes envconfig tags to populate the Config struct.
//  4. Populates Config.Build from linker-injected variables.
//  5. Validates the Config struct.
func LoadConfig() (*Config, error) {
	return loadConfigWithLookup(os.LookupEnv)
}

// loadConfigWithLookup is the internal implementation of LoadConfig that
// accepts an injectable environment lookup for testing.
func loadConfigWithLookup(lookup envLookup) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent).
	// godotenv.Load() silently succeeds if no .env file exists in the working
	// directory. It does NOT override existing environment variables.
	_ = godotenv.Load()

	// Step 3: Process envconfig tags to populate the Config struct.
	// The empty prefix "" means envconfig uses the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 5: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateNarrativeChain(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateNarrativeChain enforces cross-field rules that struct tags cannot
// express: every provider named in the fallback chain must be a known provider
// and must have an API key configured, unless the service runs in test mode
// (stub providers need no keys).
func validateNarrativeChain(cfg *Config) error {
	if len(cfg.Narrative.Providers) == 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "NARRATIVE_PROVIDERS must name at least one provider",
		}
	}

	seen := make(map[string]bool, len(cfg.Narrative.Providers))
	for _, name := range cfg.Narrative.Providers {
		if seen[name] {
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("provider %q listed more than once in NARRATIVE_PROVIDERS", name),
			}
		}
		seen[name] = true

		var key SecretString
		switch name {
		case "openai":
			key = cfg.Narrative.OpenAIKey
		case "anthropic":
			key = cfg.Narrative.AnthropicKey
		default:
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("unknown narrative provider %q in NARRATIVE_PROVIDERS", name),
			}
		}

		if key.Unmask() == "" && !cfg.IsTestMode {
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("narrative provider %q is configured but has no API key", name),
			}
		}
	}

	return nil
}
