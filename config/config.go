// Package config provides configuration loading and management for semtest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semtest/heuristic"
	"github.com/c360studio/semtest/llm"
	_ "github.com/c360studio/semtest/llm/providers" // KeyEnv lookups need the registry
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/scenario/priority"
	"github.com/c360studio/semtest/workflow/validation"
)

// Config represents the complete semtest configuration
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Heuristics HeuristicsConfig `yaml:"heuristics"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
}

// LLMConfig configures the external scenario generator
type LLMConfig struct {
	// Provider is the wire protocol: openai, ollama, or anthropic
	Provider string `yaml:"provider"`
	// Endpoint is the API base URL (empty = provider default)
	Endpoint string `yaml:"endpoint"`
	// Model is the model name (default: gpt-3.5-turbo)
	Model string `yaml:"model"`
	// Temperature controls randomness (0.0-2.0, default: 0.3)
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps the completion length (default: 2000)
	MaxTokens int `yaml:"max_tokens"`
	// Timeout bounds each external attempt
	Timeout time.Duration `yaml:"timeout"`
	// Fallbacks are tried in order when the primary endpoint fails
	Fallbacks []EndpointConfig `yaml:"fallbacks,omitempty"`
	// Circuit skips endpoints after repeated failures in long-lived processes
	Circuit llm.HealthConfig `yaml:"circuit"`
	// APIKey is never read from or written to files; see ApplyEnv
	APIKey string `yaml:"-"`
}

// EndpointConfig is an additional LLM endpoint
type EndpointConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// GenerationConfig configures the escalation controller and batch runs
type GenerationConfig struct {
	// MaxScenarios caps the scenarios per story (default: 20)
	MaxScenarios int `yaml:"max_scenarios"`
	// MaxAttempts is the external attempt budget per story (default: 2)
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBase is the wait before the second attempt (default: 500ms)
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMultiplier grows the wait per attempt (default: 2)
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// Concurrency bounds parallel stories in batch mode (default: 4)
	Concurrency int `yaml:"concurrency"`
	// DryRun skips the external generator entirely
	DryRun bool `yaml:"dry_run"`
}

// HeuristicsConfig overrides the heuristic vocabulary and priority weights.
// Empty lists keep the built-in defaults.
type HeuristicsConfig struct {
	ValidationTerms []string          `yaml:"validation_terms,omitempty"`
	SecurityTerms   []string          `yaml:"security_terms,omitempty"`
	NumericPatterns []string          `yaml:"numeric_patterns,omitempty"`
	Weights         map[string]string `yaml:"weights,omitempty"`
	Rationales      map[string]string `yaml:"rationales,omitempty"`
}

// StoreConfig configures the run history database
type StoreConfig struct {
	// Path is the SQLite file (empty = history disabled)
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Endpoint:    "",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.3,
			MaxTokens:   2000,
			Timeout:     60 * time.Second,
			Circuit:     llm.DefaultHealthConfig(),
		},
		Generation: GenerationConfig{
			MaxScenarios:      20,
			MaxAttempts:       2,
			BackoffBase:       500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			Concurrency:       4,
		},
		Server: ServerConfig{
			Addr:         ":8089",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must not be negative")
	}
	if c.LLM.Circuit.FailureThreshold < 0 || c.LLM.Circuit.RecoveryTimeout < 0 {
		return fmt.Errorf("llm.circuit values must not be negative")
	}
	if c.Generation.MaxScenarios < 1 {
		return fmt.Errorf("generation.max_scenarios must be at least 1")
	}
	if c.Generation.Concurrency < 1 {
		return fmt.Errorf("generation.concurrency must be at least 1")
	}
	if err := c.Generation.RetryConfig().Validate(); err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	if _, err := c.Heuristics.PriorityEngine(); err != nil {
		return fmt.Errorf("heuristics: %w", err)
	}
	if _, err := heuristic.New(c.Heuristics.Vocabulary(), nil); err != nil {
		return fmt.Errorf("heuristics: %w", err)
	}
	return nil
}

// RetryConfig returns the external attempt budget.
func (g GenerationConfig) RetryConfig() validation.RetryConfig {
	return validation.RetryConfig{
		MaxAttempts:       g.MaxAttempts,
		BackoffBase:       g.BackoffBase,
		BackoffMultiplier: g.BackoffMultiplier,
	}
}

// Endpoints returns the primary endpoint followed by the fallbacks.
func (c LLMConfig) Endpoints() []llm.Endpoint {
	endpoints := []llm.Endpoint{{
		Name:      c.Provider + "/" + c.Model,
		Provider:  c.Provider,
		URL:       c.Endpoint,
		Model:     c.Model,
		APIKey:    c.APIKey,
		MaxTokens: c.MaxTokens,
	}}
	for _, fb := range c.Fallbacks {
		endpoints = append(endpoints, llm.Endpoint{
			Name:      fb.Provider + "/" + fb.Model,
			Provider:  fb.Provider,
			URL:       fb.Endpoint,
			Model:     fb.Model,
			MaxTokens: c.MaxTokens,
		})
	}
	return endpoints
}

// Vocabulary returns the default vocabulary with the configured lists applied.
func (h HeuristicsConfig) Vocabulary() heuristic.Vocabulary {
	return heuristic.DefaultVocabulary().Merge(heuristic.Vocabulary{
		ValidationTerms: h.ValidationTerms,
		SecurityTerms:   h.SecurityTerms,
		NumericPatterns: h.NumericPatterns,
	})
}

// PriorityEngine builds the priority engine from the configured overrides.
func (h HeuristicsConfig) PriorityEngine() (*priority.Engine, error) {
	weights := make(priority.WeightMap, len(h.Weights))
	for k, v := range h.Weights {
		cat := scenario.ParseCategory(k)
		if cat == "" {
			return nil, fmt.Errorf("unknown category %q in weights", k)
		}
		p := scenario.ParsePriority(v)
		if p == "" {
			return nil, fmt.Errorf("unknown priority %q for %s", v, cat)
		}
		weights[cat] = p
	}
	rationales := make(priority.Rationales, len(h.Rationales))
	for k, v := range h.Rationales {
		cat := scenario.ParseCategory(k)
		if cat == "" {
			return nil, fmt.Errorf("unknown category %q in rationales", k)
		}
		rationales[cat] = strings.TrimSpace(v)
	}
	return priority.NewEngine(weights, rationales), nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// Booleans can only be switched on by a later layer.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if len(other.LLM.Fallbacks) > 0 {
		c.LLM.Fallbacks = other.LLM.Fallbacks
	}
	if other.LLM.Circuit.FailureThreshold != 0 {
		c.LLM.Circuit.FailureThreshold = other.LLM.Circuit.FailureThreshold
	}
	if other.LLM.Circuit.RecoveryTimeout != 0 {
		c.LLM.Circuit.RecoveryTimeout = other.LLM.Circuit.RecoveryTimeout
	}
	if other.LLM.APIKey != "" {
		c.LLM.APIKey = other.LLM.APIKey
	}

	// Generation
	if other.Generation.MaxScenarios != 0 {
		c.Generation.MaxScenarios = other.Generation.MaxScenarios
	}
	if other.Generation.MaxAttempts != 0 {
		c.Generation.MaxAttempts = other.Generation.MaxAttempts
	}
	if other.Generation.BackoffBase != 0 {
		c.Generation.BackoffBase = other.Generation.BackoffBase
	}
	if other.Generation.BackoffMultiplier != 0 {
		c.Generation.BackoffMultiplier = other.Generation.BackoffMultiplier
	}
	if other.Generation.Concurrency != 0 {
		c.Generation.Concurrency = other.Generation.Concurrency
	}
	if other.Generation.DryRun {
		c.Generation.DryRun = true
	}

	// Heuristics
	if len(other.Heuristics.ValidationTerms) > 0 {
		c.Heuristics.ValidationTerms = other.Heuristics.ValidationTerms
	}
	if len(other.Heuristics.SecurityTerms) > 0 {
		c.Heuristics.SecurityTerms = other.Heuristics.SecurityTerms
	}
	if len(other.Heuristics.NumericPatterns) > 0 {
		c.Heuristics.NumericPatterns = other.Heuristics.NumericPatterns
	}
	if len(other.Heuristics.Weights) > 0 {
		c.Heuristics.Weights = other.Heuristics.Weights
	}
	if len(other.Heuristics.Rationales) > 0 {
		c.Heuristics.Rationales = other.Heuristics.Rationales
	}

	// Store
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
}
