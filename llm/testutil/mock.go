// Package testutil provides test utilities for the llm package.
// It includes a scripted mock for driving generation runs through every
// external-generator behavior: valid output, malformed text, timeouts, and
// transport failures.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/semtest/llm"
)

// Step scripts one call to Complete.
type Step struct {
	// Content is returned as the response text when Err is nil.
	Content string

	// Err is returned instead of a response.
	Err error

	// Delay blocks the call. A cancelled context ends the wait early and
	// returns a transient error wrapping ctx.Err().
	Delay time.Duration
}

// MockLLMClient is a thread-safe scripted llm.Completer.
//
// Usage:
//
//	// Fenced JSON on the first call
//	mock := &MockLLMClient{Steps: []Step{{Content: "```json\n{...}\n```"}}}
//
//	// Transport failure, then prose
//	mock := &MockLLMClient{Steps: []Step{
//	    {Err: llm.NewTransientError(errors.New("connection refused"))},
//	    {Content: "I cannot help with that."},
//	}}
//
//	// Every call fails
//	mock := &MockLLMClient{Err: errors.New("connection failed")}
type MockLLMClient struct {
	mu       sync.Mutex
	Steps    []Step
	Err      error // Returned on every call, takes precedence over Steps
	requests []llm.Request
	contexts []context.Context
	index    int
}

// Complete implements llm.Completer. Calls beyond the script return an empty
// response.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.contexts = append(m.contexts, ctx)
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return nil, err
	}
	var step Step
	if m.index < len(m.Steps) {
		step = m.Steps[m.index]
		m.index++
	}
	m.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, llm.NewTransientError(ctx.Err())
		case <-timer.C:
		}
	}

	if step.Err != nil {
		return nil, step.Err
	}
	return &llm.Response{Content: step.Content, Model: "test-model"}, nil
}

// GetCallCount returns the number of times Complete() was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the requests received so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// GetCapturedContext returns the last context passed to Complete().
func (m *MockLLMClient) GetCapturedContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

// Reset clears recorded calls and rewinds the script.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.contexts = nil
	m.index = 0
}
