// Package llm provides a provider-agnostic LLM client with retry and fallback support.
// Endpoints are tried in the order they are configured.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Endpoint describes one model served by a provider.
type Endpoint struct {
	// Name identifies the endpoint in logs and call records. Defaults to Model.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Provider is a registered provider name ("openai", "ollama", "anthropic").
	Provider string `yaml:"provider" json:"provider"`

	// URL is the provider base URL. Empty uses the provider default.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Model is the model identifier sent to the provider.
	Model string `yaml:"model" json:"model"`

	// APIKey overrides the provider's environment variable.
	APIKey string `yaml:"-" json:"-"`

	// MaxTokens is the context budget recorded with each call.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

func (e Endpoint) name() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Model
}

// Client is a provider-agnostic LLM client with retry and fallback support.
type Client struct {
	endpoints   []Endpoint
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger

	// recorder optionally persists LLM calls. If nil, call recording is disabled.
	recorder CallRecorder

	// health skips endpoints with an open circuit. If nil, every call walks the full chain.
	health *Health
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines an LLM completion request.
type Request struct {
	// Messages is the chat history to send to the LLM.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// RequestID uniquely identifies this LLM call. Set by Complete().
	RequestID string

	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	// Usage contains detailed token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Completer is the subset of Client used by generators. testutil provides a mock.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithCallRecorder records every call with timing and token usage.
func WithCallRecorder(r CallRecorder) ClientOption {
	return func(client *Client) {
		client.recorder = r
	}
}

// WithHealth shares a circuit breaker across calls.
func WithHealth(h *Health) ClientOption {
	return func(client *Client) {
		client.health = h
	}
}

// NewClient creates a new LLM client over an ordered endpoint chain.
func NewClient(endpoints []Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		endpoints:   append([]Endpoint(nil), endpoints...),
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Endpoints returns a copy of the configured endpoint chain.
func (c *Client) Endpoints() []Endpoint {
	return append([]Endpoint(nil), c.endpoints...)
}

// Health returns the circuit breaker, or nil if none is configured.
func (c *Client) Health() *Health {
	return c.health
}

func (c *Client) chain() []Endpoint {
	if c.health == nil {
		return c.endpoints
	}
	return c.health.Filter(c.endpoints)
}

func (c *Client) markHealth(ctx context.Context, ep Endpoint, err error) {
	switch {
	case c.health == nil:
	case err == nil:
		c.health.MarkSuccess(ep.name())
	case ctx.Err() == nil:
		c.health.MarkFailure(ep.name())
	}
}

// Complete sends a completion request, handling retry and fallback logic.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(fmt.Errorf("at least one message is required"))
	}
	if len(c.endpoints) == 0 {
		return nil, NewFatalError(fmt.Errorf("no LLM endpoints configured"))
	}

	requestID := uuid.New().String()
	startedAt := time.Now()
	traceCtx := GetTraceContext(ctx)

	base := CallRecord{
		RequestID: requestID,
		RunID:     traceCtx.RunID,
		Attempt:   traceCtx.Attempt,
		Messages:  req.Messages,
		StartedAt: startedAt,
	}

	var lastErr error
	var fallbacksUsed []string
	var retries int

	for _, ep := range c.chain() {
		resp, attempts, err := c.tryEndpointWithRetry(ctx, ep, req)
		retries += attempts - 1 // First attempt isn't a retry
		c.markHealth(ctx, ep, err)

		if err == nil {
			resp.RequestID = requestID

			record := base
			record.Model = resp.Model
			record.Provider = ep.Provider
			record.Response = resp.Content
			record.PromptTokens = resp.Usage.PromptTokens
			record.CompletionTokens = resp.Usage.CompletionTokens
			record.TotalTokens = resp.Usage.TotalTokens
			record.FinishReason = resp.FinishReason
			record.Retries = retries
			record.FallbacksUsed = fallbacksUsed
			record.ContextBudget = ep.MaxTokens
			c.recordCall(ctx, &record)

			return resp, nil
		}

		fallbacksUsed = append(fallbacksUsed, ep.name())
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("Endpoint failed, trying fallback",
			"endpoint", ep.name(),
			"provider", ep.Provider,
			"error", err)

		if IsFatal(err) {
			c.logger.Warn("Fatal error, not trying fallbacks", "error", err)

			record := base
			record.Model = ep.Model
			record.Provider = ep.Provider
			record.Error = err.Error()
			record.Retries = retries
			record.FallbacksUsed = fallbacksUsed
			record.ContextBudget = ep.MaxTokens
			c.recordCall(ctx, &record)

			return nil, err
		}
	}

	record := base
	record.Error = fmt.Sprintf("all endpoints failed: %v", lastErr)
	record.Retries = retries
	record.FallbacksUsed = fallbacksUsed
	c.recordCall(ctx, &record)

	if IsFatal(lastErr) || IsTransient(lastErr) {
		return nil, fmt.Errorf("all endpoints failed: %w", lastErr)
	}
	return nil, NewTransientError(fmt.Errorf("all endpoints failed: %w", lastErr))
}

// recordCall stores an LLM call record if a recorder is configured.
// Failures are logged but don't affect the LLM call itself.
func (c *Client) recordCall(ctx context.Context, record *CallRecord) {
	if c.recorder == nil {
		return
	}

	record.CompletedAt = time.Now()
	record.DurationMs = record.CompletedAt.Sub(record.StartedAt).Milliseconds()
	record.MessagesCount = len(record.Messages)
	record.ResponsePreview = preview(record.Response, 500)

	// The parent context may already be cancelled; recording must still happen.
	if err := c.recorder.RecordCall(context.WithoutCancel(ctx), record); err != nil {
		c.logger.Warn("Failed to record LLM call",
			"request_id", record.RequestID,
			"run_id", record.RunID,
			"error", err)
	}
}

// tryEndpointWithRetry attempts a request with retry logic and returns the attempt count.
func (c *Client) tryEndpointWithRetry(ctx context.Context, ep Endpoint, req Request) (*Response, int, error) {
	var lastErr error
	maxAttempts := c.retryConfig.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, ep, req)
		if err == nil {
			return resp, attempt, nil
		}

		lastErr = err

		if IsFatal(err) {
			return nil, attempt, err
		}

		if attempt < maxAttempts {
			backoff := jittered(c.retryConfig.Backoff(attempt))
			c.logger.Debug("Request failed, retrying",
				"endpoint", ep.name(),
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"backoff", backoff,
				"status", StatusCode(err),
				"error", err)

			select {
			case <-ctx.Done():
				return nil, attempt, NewTransientError(ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return nil, maxAttempts, lastErr
}

// doRequest executes a single HTTP request to the LLM endpoint.
func (c *Client) doRequest(ctx context.Context, ep Endpoint, req Request) (*Response, error) {
	provider, err := ResolveProvider(ep.Provider)
	if err != nil {
		return nil, err
	}

	url := provider.BuildURL(ep.URL)

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending LLM request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, apiKey(provider, ep))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and timeouts are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, httpError(httpResp.StatusCode, respBody)
	}

	resp, err := provider.ParseResponse(respBody, ep.Model)
	if err != nil {
		// A garbled body from a healthy endpoint is worth another try.
		return nil, NewTransientError(err)
	}
	return resp, nil
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
