package validation

import (
	"fmt"
	"time"
)

// RetryConfig holds retry configuration for external generation attempts.
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase       time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the fixed budget of two external attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// Validate checks the configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BackoffBase < 0 {
		return fmt.Errorf("backoff_base must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	return nil
}

// RetryState tracks attempts for one generation run.
type RetryState struct {
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
	LastAttempt     time.Time `json:"last_attempt"`
	LastError       string    `json:"last_error,omitempty"`
	ValidationError *Result   `json:"validation_error,omitempty"`
}

// Budget counts external attempts for a single run. It is owned by one
// controller run and is not safe for concurrent use.
type Budget struct {
	config RetryConfig
	state  RetryState
	now    func() time.Time
}

// NewBudget creates an attempt budget.
func NewBudget(config RetryConfig) *Budget {
	return &Budget{
		config: config,
		state:  RetryState{CreatedAt: time.Now()},
		now:    time.Now,
	}
}

// RecordAttempt records the start of an attempt and returns its number.
func (b *Budget) RecordAttempt() int {
	b.state.Attempts++
	b.state.LastAttempt = b.now()
	return b.state.Attempts
}

// RecordFailure records why the current attempt failed.
func (b *Budget) RecordFailure(errorMsg string, validation *Result) {
	b.state.LastError = errorMsg
	b.state.ValidationError = validation
}

// CanRetry reports whether another attempt fits in the budget.
func (b *Budget) CanRetry() bool {
	return b.state.Attempts < b.config.MaxAttempts
}

// Exhaust spends the remaining budget, e.g. after a non-retryable error.
func (b *Budget) Exhaust() {
	b.state.Attempts = b.config.MaxAttempts
}

// Attempts returns the number of attempts made so far.
func (b *Budget) Attempts() int {
	return b.state.Attempts
}

// MaxAttempts returns the size of the budget.
func (b *Budget) MaxAttempts() int {
	return b.config.MaxAttempts
}

// State returns a copy of the current retry state.
func (b *Budget) State() RetryState {
	return b.state
}

// BackoffDuration returns the wait before the next attempt:
// base * multiplier^(attempts-1).
func (b *Budget) BackoffDuration() time.Duration {
	if b.state.Attempts == 0 {
		return 0
	}
	multiplier := 1.0
	for i := 1; i < b.state.Attempts; i++ {
		multiplier *= b.config.BackoffMultiplier
	}
	return time.Duration(float64(b.config.BackoffBase) * multiplier)
}

// RetryDecision is the outcome of a failed attempt against the budget.
type RetryDecision struct {
	ShouldRetry    bool
	AttemptNumber  int
	MaxAttempts    int
	Backoff        time.Duration
	Feedback       string
	IsFinalFailure bool
}

// ShouldRetry records a failed attempt and decides whether another one fits
// in the budget. validation is nil for transport failures, which carry no
// feedback for the next prompt.
func (b *Budget) ShouldRetry(reason string, validation *Result) *RetryDecision {
	b.RecordFailure(reason, validation)

	decision := &RetryDecision{
		AttemptNumber: b.state.Attempts,
		MaxAttempts:   b.config.MaxAttempts,
	}
	if validation != nil && !validation.Valid {
		decision.Feedback = validation.FormatFeedback()
	}

	if !b.CanRetry() {
		decision.IsFinalFailure = true
		return decision
	}

	decision.ShouldRetry = true
	decision.Backoff = b.BackoffDuration()
	return decision
}
