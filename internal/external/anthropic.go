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

	"climascope/internal/types"
)

// anthropicAPIBase is the default Anthropic API base URL.
// Overridable in tests via AnthropicClientConfig.BaseURL.
const anthropicAPIBase = "https://api.anthropic.com"

// anthropicVersion is the API version header required by the messages endpoint.
const anthropicVersion = "2023-06-01"

// anthropicMaxTokens bounds a single narrative completion.
const anthropicMaxTokens = 600

// AnthropicClientConfig holds the configuration for creating an AnthropicClient.
type AnthropicClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string // Override for testing; defaults to anthropicAPIBase
	Logger  *slog.Logger
}

// AnthropicClient implements types.NarrativeProvider by calling the Anthropic
// messages API through BaseClient.
type AnthropicClient struct {
	base    *BaseClient
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger
}

// NewAnthropicClient creates a new AnthropicClient. The httpClient timeout
// should be set to the configured narrative call timeout.
func NewAnthropicClient(httpClient *http.Client, cfg AnthropicClientConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"anthropic",
		DefaultRetryPolicy(),
		"ClimaScope/1.0",
	)

	return &AnthropicClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewAnthropicClientWithBase creates an AnthropicClient with a pre-configured
// BaseClient, for tests that control retry behavior.
func NewAnthropicClientWithBase(base *BaseClient, cfg AnthropicClientConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AnthropicClient{
		base:    base,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Name identifies the provider in narratives and warnings.
func (c *AnthropicClient) Name() string { return "anthropic" }

// messagesRequest is the Anthropic messages API payload.
type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system"`
	Messages  []messagesMessage `json:"messages"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the subset of the messages response we consume.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate produces prose for one section via the messages endpoint.
// Error mapping matches OpenAIClient.Generate.
func (c *AnthropicClient) Generate(ctx context.Context, sectionID types.SectionID, prompt string) (string, error) {
	payload := messagesRequest{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt,
		Messages: []messagesMessage{
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal messages payload",
			err,
		)
	}

	reqURL := c.baseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create messages request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", mapProviderCallError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("messages request rejected",
			slog.String("section", string(sectionID)),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(errBody)),
		)
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider,
			fmt.Sprintf("messages request returned %d", resp.StatusCode),
			nil,
		)
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"failed to decode messages response",
			err,
		)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamProvider,
			"messages response contained no text",
			nil,
		)
	}

	return strings.TrimSpace(text.String()), nil
}
