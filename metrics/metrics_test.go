package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/workflow"
)

var _ workflow.Observer = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.AttemptFinished(workflow.OutcomeInvalid)
	m.AttemptFinished(workflow.OutcomeInvalid)
	m.AttemptFinished(workflow.OutcomeValid)
	m.ValidationIssue("missing_field")
	m.Escalated()

	set := &scenario.Set{Scenarios: []scenario.Scenario{
		{Category: scenario.CategoryFunctionalCore},
		{Category: scenario.CategoryFunctionalCore},
		{Category: scenario.CategorySecurity},
	}}
	m.RunFinished(scenario.SourceHeuristic, 20*time.Millisecond, set)
	m.RunFinished(scenario.SourceExternal, time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues(workflow.OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues(workflow.OutcomeValid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.issues.WithLabelValues("missing_field")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("heuristic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("external")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scenarios.WithLabelValues("functional-core")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scenarios.WithLabelValues("security")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Escalated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "semtest_escalations_total 1"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.Escalated()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.escalations))
}
