// Package metrics exposes scenario generation counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semtest/scenario"
)

const namespace = "semtest"

// Metrics implements workflow.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	attempts    *prometheus.CounterVec
	issues      *prometheus.CounterVec
	escalations prometheus.Counter
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	scenarios   *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_attempts_total",
			Help:      "External generator attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Schema validation issues found in external output, partitioned by code.",
		}, []string{"code"}),
		escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Runs that fell back to the heuristic generator after external attempts.",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed generation runs, partitioned by scenario source.",
		}, []string{"source"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of a generation run.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		scenarios: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_generated_total",
			Help:      "Scenarios in final sets, partitioned by category.",
		}, []string{"category"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) AttemptFinished(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ValidationIssue(code string) {
	m.issues.WithLabelValues(code).Inc()
}

func (m *Metrics) Escalated() {
	m.escalations.Inc()
}

func (m *Metrics) RunFinished(source scenario.Source, elapsed time.Duration, set *scenario.Set) {
	m.runs.WithLabelValues(string(source)).Inc()
	m.duration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
	if set == nil {
		return
	}
	for cat, n := range set.CountByCategory() {
		m.scenarios.WithLabelValues(string(cat)).Add(float64(n))
	}
}
