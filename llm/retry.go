package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig bounds retries against a single endpoint. Scenario generation
// keeps its own attempt budget, so the default is one try per endpoint.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// DefaultRetryConfig returns the client defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

func (c RetryConfig) attempts() int {
	return max(c.MaxAttempts, 1)
}

// Backoff returns the wait after the given failed attempt (1-based), before jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(c.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	backoff := time.Duration(d)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}

// jittered spreads d by +/- 25%.
func jittered(d time.Duration) time.Duration {
	return d + time.Duration(float64(d)*0.25*(rand.Float64()*2-1))
}
