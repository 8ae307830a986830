package scenario

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"functional-core", CategoryFunctionalCore},
		{"Security", CategorySecurity},
		{"  PERFORMANCE-HINT ", CategoryPerformanceHint},
		{"boundary", CategoryBoundary},
		{"integration", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCategory(tt.in), "ParseCategory(%q)", tt.in)
	}
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityMedium, ParsePriority("MEDIUM"))
	assert.Equal(t, PriorityLow, ParsePriority(" Low "))
	assert.Equal(t, Priority(""), ParsePriority("critical"))
}

func TestPriorityWeight(t *testing.T) {
	assert.Greater(t, PriorityHigh.Weight(), PriorityMedium.Weight())
	assert.Greater(t, PriorityMedium.Weight(), PriorityLow.Weight())
	assert.Zero(t, Priority("urgent").Weight())
}

func TestCategoryPrefix(t *testing.T) {
	for _, c := range EmissionOrder {
		assert.True(t, c.IsValid())
		assert.NotEqual(t, "SCN", c.Prefix())
	}
	assert.Equal(t, "SCN", Category("other").Prefix())
	assert.Equal(t, len(EmissionOrder), Category("other").EmissionIndex())
	assert.Equal(t, 0, CategoryFunctionalCore.EmissionIndex())
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "FUNC-001", FormatID(CategoryFunctionalCore, 1))
	assert.Equal(t, "PERF-012", FormatID(CategoryPerformanceHint, 12))
	assert.Equal(t, "BND-1000", FormatID(CategoryBoundary, 1000))

	prefix, seq, ok := ParseID("NEG-007")
	require.True(t, ok)
	assert.Equal(t, "NEG", prefix)
	assert.Equal(t, 7, seq)

	prefix, seq, ok = ParseID("TC-LOGIN-3")
	require.True(t, ok)
	assert.Equal(t, "TC-LOGIN", prefix)
	assert.Equal(t, 3, seq)

	for _, bad := range []string{"", "FUNC", "FUNC-", "-001", "FUNC-abc"} {
		_, _, ok := ParseID(bad)
		assert.False(t, ok, "ParseID(%q)", bad)
	}

	assert.Equal(t, "AC4", CriterionRef(4))
}

func TestSetJSONShape(t *testing.T) {
	set := &Set{
		Metadata: Metadata{
			StoryTitle:              "User Login",
			Actors:                  []string{"registered user"},
			PrimaryGoal:             "log into the system",
			AcceptanceCriteriaCount: 1,
		},
		Scenarios: []Scenario{{
			ID:             "FUNC-001",
			Category:       CategoryFunctionalCore,
			Title:          "Login works",
			Steps:          []string{"Log in"},
			ExpectedResult: "Dashboard",
			Priority:       PriorityHigh,
			RiskRationale:  "Core business flow traced to acceptance criteria",
			Trace:          []string{"AC1"},
		}},
	}

	data, err := json.Marshal(set)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.ElementsMatch(t, []string{"metadata", "scenarios"}, keys(doc))

	md := doc["metadata"].(map[string]any)
	assert.ElementsMatch(t, []string{"story_title", "actors", "primary_goal", "acceptance_criteria_count"}, keys(md))

	sc := doc["scenarios"].([]any)[0].(map[string]any)
	assert.ElementsMatch(t,
		[]string{"id", "category", "title", "steps", "expected_result", "priority", "risk_rationale", "trace"},
		keys(sc))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestClone(t *testing.T) {
	orig := &Set{
		Metadata:  Metadata{Actors: []string{"user"}},
		Scenarios: []Scenario{{ID: "FUNC-001", Steps: []string{"a"}, Trace: []string{"AC1"}}},
		Warnings:  []string{"w"},
	}
	c := orig.Clone()
	c.Metadata.Actors[0] = "admin"
	c.Scenarios[0].Steps[0] = "b"
	c.Scenarios[0].Trace[0] = "AC2"
	c.Warnings[0] = "x"

	assert.Equal(t, "user", orig.Metadata.Actors[0])
	assert.Equal(t, "a", orig.Scenarios[0].Steps[0])
	assert.Equal(t, "AC1", orig.Scenarios[0].Trace[0])
	assert.Equal(t, "w", orig.Warnings[0])

	assert.Nil(t, (*Set)(nil).Clone())
	assert.NotNil(t, Scenario{}.Clone().Trace)
}

func TestCountByCategory(t *testing.T) {
	set := &Set{Scenarios: []Scenario{
		{Category: CategoryFunctionalCore},
		{Category: CategoryFunctionalCore},
		{Category: CategorySecurity},
	}}
	counts := set.CountByCategory()
	assert.Equal(t, 2, counts[CategoryFunctionalCore])
	assert.Equal(t, 1, counts[CategorySecurity])
	assert.Zero(t, counts[CategoryBoundary])
}
