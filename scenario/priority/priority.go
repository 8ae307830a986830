// Package priority assigns risk tiers to scenarios from a category weight map.
package priority

import (
	"cmp"
	"slices"

	"github.com/c360studio/semtest/scenario"
)

// WeightMap maps a scenario category to its priority.
type WeightMap map[scenario.Category]scenario.Priority

// Rationales maps a scenario category to its risk rationale template.
type Rationales map[scenario.Category]string

// DefaultWeights returns the standard category weights.
func DefaultWeights() WeightMap {
	return WeightMap{
		scenario.CategoryFunctionalCore:  scenario.PriorityHigh,
		scenario.CategorySecurity:        scenario.PriorityHigh,
		scenario.CategoryNegative:        scenario.PriorityMedium,
		scenario.CategoryBoundary:        scenario.PriorityMedium,
		scenario.CategoryValidation:      scenario.PriorityMedium,
		scenario.CategoryPerformanceHint: scenario.PriorityLow,
	}
}

// DefaultRationales returns the standard rationale templates.
func DefaultRationales() Rationales {
	return Rationales{
		scenario.CategoryFunctionalCore:  "Core business flow traced to acceptance criteria",
		scenario.CategorySecurity:        "Critical trust boundary",
		scenario.CategoryNegative:        "Error handling path for invalid input",
		scenario.CategoryBoundary:        "Off-by-one risk at numeric threshold",
		scenario.CategoryValidation:      "Input validation rule",
		scenario.CategoryPerformanceHint: "Non-functional responsiveness check",
	}
}

// Engine assigns priorities and rationales. It holds only immutable maps and
// is safe for concurrent use.
type Engine struct {
	weights    WeightMap
	rationales Rationales
}

// NewEngine creates an engine. Categories missing from weights or rationales
// fall back to the defaults.
func NewEngine(weights WeightMap, rationales Rationales) *Engine {
	w := DefaultWeights()
	for k, v := range weights {
		if v.IsValid() {
			w[k] = v
		}
	}
	r := DefaultRationales()
	for k, v := range rationales {
		if v != "" {
			r[k] = v
		}
	}
	return &Engine{weights: w, rationales: r}
}

// NewDefaultEngine creates an engine with the default maps.
func NewDefaultEngine() *Engine {
	return NewEngine(nil, nil)
}

// PriorityFor returns the priority of a category. Unknown categories are Low.
func (e *Engine) PriorityFor(c scenario.Category) scenario.Priority {
	if p, ok := e.weights[c]; ok {
		return p
	}
	return scenario.PriorityLow
}

// RationaleFor returns the rationale template of a category.
func (e *Engine) RationaleFor(c scenario.Category) string {
	if r, ok := e.rationales[c]; ok {
		return r
	}
	return "Unclassified risk"
}

// Prioritize returns new records with priority and risk rationale set from
// the category. The input slice is not modified.
func (e *Engine) Prioritize(in []scenario.Scenario) []scenario.Scenario {
	out := scenario.CloneAll(in)
	for i := range out {
		out[i].Priority = e.PriorityFor(out[i].Category)
		out[i].RiskRationale = e.RationaleFor(out[i].Category)
	}
	return out
}

// Compare orders a before b when it is more important: higher priority
// first, then more traced criteria. Trace length never crosses a priority
// tier.
func Compare(a, b scenario.Scenario) int {
	if c := cmp.Compare(b.Priority.Weight(), a.Priority.Weight()); c != 0 {
		return c
	}
	return cmp.Compare(len(b.Trace), len(a.Trace))
}

// SortByPriority returns a copy ordered by Compare. Equal scenarios keep
// their original relative order.
func SortByPriority(in []scenario.Scenario) []scenario.Scenario {
	out := scenario.CloneAll(in)
	slices.SortStableFunc(out, Compare)
	return out
}
