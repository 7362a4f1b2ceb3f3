// Package narrative turns validated weather documents into section prose via
// an ordered chain of AI providers, with content-hash caching, request
// coalescing, and deterministic templated fallback. Narrative generation is
// degradable: a document that defeats every provider still yields usable text.
package narrative

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"climascope/internal/types"
)

// Generator produces narratives for report sections. It is safe for
// concurrent use; the orchestrator fans out one goroutine per section.
type Generator struct {
	providers   []types.NarrativeProvider
	cache       *cache
	group       singleflight.Group
	callTimeout time.Duration
	logger      *slog.Logger
	metrics     types.MetricsCollector
}

// GeneratorConfig holds the Generator's dependencies.
type GeneratorConfig struct {
	// Providers is the ordered fallback chain. Must be non-empty.
	Providers []types.NarrativeProvider

	// CallTimeout bounds a single provider call, not the whole chain.
	CallTimeout time.Duration

	Logger  *slog.Logger
	Metrics types.MetricsCollector
}

// NewGenerator creates a Generator with a fresh cache.
func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		providers:   cfg.Providers,
		cache:       newCache(),
		callTimeout: cfg.CallTimeout,
		logger:      logger,
		metrics:     cfg.Metrics,
	}
}

// sectionResult carries a narrative plus the warnings accumulated producing it
// through the singleflight group.
type sectionResult struct {
	narrative types.Narrative
	warnings  []string
}

// Generate produces the narrative for one section. It never returns an error:
// if every provider fails, the templated fallback text is used and a warning
// is returned alongside it. Concurrent calls with identical inputs coalesce
// into at most one provider call.
func (g *Generator) Generate(ctx context.Context, doc *types.WeatherDataDocument, sectionID types.SectionID) (types.Narrative, []string) {
	prompt := buildPrompt(doc, sectionID)
	hash := contentHash(doc, sectionID, prompt)

	if cached, ok := g.cache.get(hash); ok {
		g.count(ctx, types.MetricNarrativeCacheHit, map[string]string{
			types.DimSection: string(sectionID),
		})
		return cached, nil
	}

	v, _, _ := g.group.Do(hash, func() (any, error) {
		// Re-check under the group: a concurrent winner may have populated
		// the cache between our miss and acquiring the flight.
		if cached, ok := g.cache.get(hash); ok {
			return sectionResult{narrative: cached}, nil
		}

		result := g.generateUncached(ctx, doc, sectionID, prompt, hash)
		g.cache.put(hash, result.narrative)
		return result, nil
	})

	result := v.(sectionResult)
	return result.narrative, result.warnings
}

// generateUncached walks the provider chain in order, falling back to the
// deterministic template when the chain is exhausted.
func (g *Generator) generateUncached(ctx context.Context, doc *types.WeatherDataDocument, sectionID types.SectionID, prompt, hash string) sectionResult {
	var warnings []string

	for _, provider := range g.providers {
		text, err := g.callProvider(ctx, provider, sectionID, prompt)
		if err == nil {
			return sectionResult{
				narrative: types.Narrative{
					SectionID:   sectionID,
					Text:        text,
					Provider:    provider.Name(),
					ContentHash: hash,
				},
				warnings: warnings,
			}
		}

		// Context cancellation is the caller's signal, not a provider fault;
		// stop walking the chain and fall through to the template.
		if errors.Is(ctx.Err(), context.Canceled) {
			break
		}

		g.count(ctx, types.MetricProviderFailure, map[string]string{
			types.DimProvider: provider.Name(),
			types.DimSection:  string(sectionID),
		})
		g.logger.Warn("narrative provider failed",
			slog.String("provider", provider.Name()),
			slog.String("section", string(sectionID)),
			slog.String("error", err.Error()),
		)
		warnings = append(warnings, "narrative provider "+provider.Name()+" failed for section "+string(sectionID))
	}

	g.count(ctx, types.MetricNarrativeFallback, map[string]string{
		types.DimSection: string(sectionID),
	})
	warnings = append(warnings, "all narrative providers failed for section "+string(sectionID)+"; templated fallback used")

	return sectionResult{
		narrative: types.Narrative{
			SectionID:   sectionID,
			Text:        fallbackText(doc, sectionID),
			Provider:    "fallback",
			ContentHash: hash,
			Fallback:    true,
		},
		warnings: warnings,
	}
}

// callProvider bounds a single provider call with the configured timeout.
func (g *Generator) callProvider(ctx context.Context, provider types.NarrativeProvider, sectionID types.SectionID, prompt string) (string, error) {
	callCtx := ctx
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}
	return provider.Generate(callCtx, sectionID, prompt)
}

func (g *Generator) count(ctx context.Context, metric string, dims map[string]string) {
	if g.metrics != nil {
		g.metrics.Count(ctx, metric, dims)
	}
}
