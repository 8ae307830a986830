package llm

import (
	"maps"
	"sync"
	"time"
)

// EndpointHealth is the circuit state of one endpoint.
type EndpointHealth struct {
	Available       bool      `json:"available"`
	LastSuccess     time.Time `json:"last_success,omitzero"`
	LastFailure     time.Time `json:"last_failure,omitzero"`
	FailureCount    int       `json:"failure_count"`
	CircuitOpen     bool      `json:"circuit_open"`
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitzero"`
}

// HealthConfig tunes the circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the consecutive failures that open the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout is how long an open circuit stays closed to traffic
	// before one probe request is let through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
}

// DefaultHealthConfig opens after three straight failures and probes after 30s.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Health tracks endpoint failures across calls so long-lived processes
// (serve, watch, batch) stop paying for an endpoint that is down.
// The zero value is not usable; call NewHealth.
type Health struct {
	mu       sync.RWMutex
	config   HealthConfig
	statuses map[string]*EndpointHealth
	now      func() time.Time
}

// NewHealth creates a tracker.
func NewHealth(cfg HealthConfig) *Health {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &Health{
		config:   cfg,
		statuses: make(map[string]*EndpointHealth),
		now:      time.Now,
	}
}

func (h *Health) status(name string) *EndpointHealth {
	s, ok := h.statuses[name]
	if !ok {
		s = &EndpointHealth{Available: true}
		h.statuses[name] = s
	}
	return s
}

// MarkSuccess closes the circuit for name.
func (h *Health) MarkSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.status(name)
	s.LastSuccess = h.now()
	s.FailureCount = 0
	s.Available = true
	s.CircuitOpen = false
}

// MarkFailure counts a failure and opens the circuit at the threshold.
func (h *Health) MarkFailure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.status(name)
	s.LastFailure = h.now()
	s.FailureCount++
	if s.FailureCount >= h.config.FailureThreshold {
		s.CircuitOpen = true
		s.CircuitOpenedAt = s.LastFailure
		s.Available = false
	}
}

// Available reports whether name may receive traffic. An open circuit
// becomes half-open once the recovery timeout has passed.
func (h *Health) Available(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.statuses[name]
	if !ok || !s.CircuitOpen {
		return true
	}
	return h.now().Sub(s.CircuitOpenedAt) > h.config.RecoveryTimeout
}

// Filter returns the endpoints that may receive traffic, in order. When every
// circuit is open the full chain is returned.
func (h *Health) Filter(endpoints []Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if h.Available(ep.name()) {
			out = append(out, ep)
		}
	}
	if len(out) == 0 {
		return endpoints
	}
	return out
}

// Snapshot returns a copy of all tracked states keyed by endpoint name.
func (h *Health) Snapshot() map[string]EndpointHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]EndpointHealth, len(h.statuses))
	for name, s := range h.statuses {
		out[name] = *s
	}
	return out
}

// Reset forgets every tracked endpoint.
func (h *Health) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	maps.DeleteFunc(h.statuses, func(string, *EndpointHealth) bool { return true })
}
