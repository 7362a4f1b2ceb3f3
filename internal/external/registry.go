package external

import (
	"log/slog"
	"net/http"

	"climascope/internal/config"
	"climascope/internal/types"
)

// ProviderRegistry holds the ordered narrative provider fallback chain.
// Construction decides between stub and production clients exactly once, at
// startup; the rest of the system only sees types.NarrativeProvider.
type ProviderRegistry struct {
	chain []types.NarrativeProvider
}

// NewProviderRegistry builds the provider chain from configuration.
//
// In test mode or the local environment, every configured provider is replaced
// with a deterministic stub so that pipelines run without API keys or network
// access. The chain preserves the configured order either way; the config
// loader has already rejected unknown provider names and missing keys.
func NewProviderRegistry(cfg *config.Config, logger *slog.Logger) *ProviderRegistry {
	useStubs := cfg.IsTestMode || cfg.Environment == "local"

	httpClient := &http.Client{Timeout: cfg.Narrative.CallTimeout}

	chain := make([]types.NarrativeProvider, 0, len(cfg.Narrative.Providers))
	for _, name := range cfg.Narrative.Providers {
		if useStubs {
			chain = append(chain, NewStubProvider(name))
			continue
		}

		switch name {
		case "openai":
			chain = append(chain, NewOpenAIClient(httpClient, OpenAIClientConfig{
				APIKey:  cfg.Narrative.OpenAIKey.Unmask(),
				Model:   cfg.Narrative.OpenAIModel,
				BaseURL: cfg.Narrative.OpenAIBaseURL,
				Logger:  logger,
			}))
		case "anthropic":
			chain = append(chain, NewAnthropicClient(httpClient, AnthropicClientConfig{
				APIKey:  cfg.Narrative.AnthropicKey.Unmask(),
				Model:   cfg.Narrative.AnthropicModel,
				BaseURL: cfg.Narrative.AnthropicURL,
				Logger:  logger,
			}))
		}
	}

	logger.Info("narrative providers initialized",
		slog.Any("chain", cfg.Narrative.Providers),
		slog.Bool("stub_mode", useStubs),
	)

	return &ProviderRegistry{chain: chain}
}

// Chain returns the ordered fallback chain. Callers must not mutate it.
func (r *ProviderRegistry) Chain() []types.NarrativeProvider {
	return r.chain
}
