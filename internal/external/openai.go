package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"climascope/internal/types"
)

// openAIAPIBase is the default OpenAI API base URL.
// Overridable in tests via OpenAIClientConfig.BaseURL.
const openAIAPIBase = "https://api.openai.com"

// openAIMaxTokens bounds a single narrative completion. Report sections are
// one to three paragraphs; anything longer is a runaway generation.
const openAIMaxTokens = 600

// OpenAIClientConfig holds the configuration for creating an OpenAIClient.
type OpenAIClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string // Override for testing; defaults to openAIAPIBase
	Logger  *slog.Logger
}

// OpenAIClient implements types.NarrativeProvider by calling the OpenAI chat
// completions API through BaseClient. All requests route through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping), which also makes testing with httptest straightforward.
type OpenAIClient struct {
	base    *BaseClient
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

// NewOpenAIClient creates a new OpenAIClient. The httpClient timeout should be
// set to the configured narrative call timeout.
func NewOpenAIClient(httpClient *http.Client, cfg OpenAIClientConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"openai",
		DefaultRetryPolicy(),
		"ClimaScope/1.0",
	)

	return &OpenAIClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewOpenAIClientWithBase creates an OpenAIClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewOpenAIClientWithBase(base *BaseClient, cfg OpenAIClientConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Name identifies the provider in narratives and warnings.
func (c *OpenAIClient) Name() string { return "openai" }

// chatRequest is the OpenAI chat completions payload.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the chat completions response we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// systemPrompt frames every narrative request. The section-specific prompt is
// produced by the narrative generator's templates.
const systemPrompt = "You are a meteorological report writer for Kenyan county weather bulletins. " +
	"Write clear, factual prose for the requested section using only the figures provided. " +
	"Do not invent numbers. Do not use markdown formatting."

// Generate produces prose for one section via the chat completions endpoint.
//
// Error mapping:
//   - 429 -> handled by BaseClient (retry + ErrCodeUpstreamRateLimited)
//   - 5xx -> handled by BaseClient (retry + ErrCodeUpstreamProvider)
//   - Other 4xx -> ErrCodeUpstreamProvider without retry
//   - context deadline -> ErrCodeUpstreamTimeout
func (c *OpenAIClient) Generate(ctx context.Context, sectionID types.SectionID, prompt string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   openAIMaxTokens,
		Temperature: 0.3,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal chat completion payload",
			err,
		)
	}

	reqURL := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create chat completion request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return "", mapProviderCallError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("chat completion rejected",
			slog.String("section", string(sectionID)),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(errBody)),
		)
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider,
			fmt.Sprintf("chat completion returned %d", resp.StatusCode),
			nil,
		)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"failed to decode chat completion response",
			err,
		)
	}

	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"chat completion returned no content",
			nil,
		)
	}

	c.logger.Debug("narrative generated",
		slog.String("provider", c.Name()),
		slog.String("section", string(sectionID)),
		slog.Duration("duration", time.Since(start)),
	)

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// mapProviderCallError re-maps BaseClient failures that were caused by the
// caller's deadline into the timeout code so the generator can distinguish
// slow providers from broken ones.
func mapProviderCallError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return types.NewAppError(
			types.ErrCodeUpstreamTimeout,
			"narrative provider call timed out",
			err,
		)
	}
	return err
}
