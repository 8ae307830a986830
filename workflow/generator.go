// Package workflow turns a parsed user story into a validated scenario set.
//
// A run is an explicit state machine (see State and the transition table in
// state.go). The external generator is tried within a fixed attempt budget,
// its output is validated and, once per run, cleaned of non-JSON wrapping.
// When the budget is spent the heuristic generator replaces the external
// output entirely, so every run ends in StateDone with a schema-valid set.
package workflow

import (
	"context"
	"fmt"

	"github.com/c360studio/semtest/llm"
)

// Prompt is the context handed to an external generator for one attempt.
type Prompt struct {
	System  string
	User    string
	Attempt int
}

// Generator is the external scenario generator. It may return arbitrary text
// or fail with a transport error; callers never assume valid JSON.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// LLMGenerator generates scenarios with a chat-completion model.
type LLMGenerator struct {
	client      llm.Completer
	temperature *float64
	maxTokens   int
}

// LLMOption configures an LLMGenerator.
type LLMOption func(*LLMGenerator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(g *LLMGenerator) {
		g.temperature = &t
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) LLMOption {
	return func(g *LLMGenerator) {
		g.maxTokens = n
	}
}

// NewLLMGenerator wraps an LLM client as an external generator.
func NewLLMGenerator(client llm.Completer, opts ...LLMOption) *LLMGenerator {
	g := &LLMGenerator{client: client}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends the prompt and returns the raw completion text.
func (g *LLMGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]llm.Message, 0, 2)
	if prompt.System != "" {
		messages = append(messages, llm.Message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt.User})

	resp, err := g.client.Complete(ctx, llm.Request{
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm completion: %w", err)
	}
	return resp.Content, nil
}
