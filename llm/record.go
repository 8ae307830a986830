package llm

import (
	"context"
	"sort"
	"time"
)

// CallRecord represents a single LLM API call with timing and usage.
type CallRecord struct {
	// RequestID uniquely identifies this LLM call.
	RequestID string `json:"request_id"`

	// RunID correlates this call with the generation run that made it.
	RunID string `json:"run_id,omitempty"`

	// Attempt is the external attempt number within the run (1-based).
	Attempt int `json:"attempt,omitempty"`

	// Model is the actual model that was used for this call.
	Model string `json:"model"`

	// Provider is the LLM provider (anthropic, ollama, openai, etc.).
	Provider string `json:"provider"`

	// Messages is the input message history sent to the LLM.
	Messages []Message `json:"messages"`

	// Response is the generated content from the LLM.
	Response string `json:"response"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// ContextBudget is the maximum context window size for this model (optional).
	ContextBudget int `json:"context_budget,omitempty"`

	// FinishReason indicates why generation stopped (stop, length, etc.).
	FinishReason string `json:"finish_reason"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	// Error contains any error message if the call failed.
	Error string `json:"error,omitempty"`

	// Retries is the number of retry attempts made.
	Retries int `json:"retries"`

	// FallbacksUsed lists endpoints tried before success.
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`

	MessagesCount int `json:"messages_count,omitempty"`

	// ResponsePreview is a truncated response preview (first 500 chars).
	ResponsePreview string `json:"response_preview,omitempty"`
}

// CallRecorder persists call records. storage.Store implements it.
type CallRecorder interface {
	RecordCall(ctx context.Context, record *CallRecord) error
}

// SortByStartTime sorts records by start time, oldest first.
func SortByStartTime(records []*CallRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

// TraceContext holds run correlation data carried through a context.
type TraceContext struct {
	RunID   string
	Attempt int
}

type traceContextKey struct{}

// WithTraceContext adds trace information to a context.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// GetTraceContext extracts trace information from a context.
func GetTraceContext(ctx context.Context) TraceContext {
	if tc, ok := ctx.Value(traceContextKey{}).(TraceContext); ok {
		return tc
	}
	return TraceContext{}
}
