// Package scenario defines the canonical test scenario record and the set
// returned for one generation request.
package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// Category classifies a scenario. The category governs both the generation
// rule that produced it and its default priority.
type Category string

const (
	// CategoryFunctionalCore covers the main flow of one acceptance criterion.
	CategoryFunctionalCore Category = "functional-core"
	// CategoryValidation covers an explicit input validation rule.
	CategoryValidation Category = "validation"
	// CategoryBoundary exercises values around a numeric threshold.
	CategoryBoundary Category = "boundary"
	// CategoryNegative asserts an error path.
	CategoryNegative Category = "negative"
	// CategorySecurity covers unauthorized access or session expiry.
	CategorySecurity Category = "security"
	// CategoryPerformanceHint is a coarse non-functional note.
	CategoryPerformanceHint Category = "performance-hint"
)

// EmissionOrder is the order in which the heuristic generator emits
// categories. Truncation and rendering preserve it.
var EmissionOrder = []Category{
	CategoryFunctionalCore,
	CategoryValidation,
	CategoryNegative,
	CategoryBoundary,
	CategorySecurity,
	CategoryPerformanceHint,
}

var categoryPrefixes = map[Category]string{
	CategoryFunctionalCore:  "FUNC",
	CategoryValidation:      "VAL",
	CategoryBoundary:        "BND",
	CategoryNegative:        "NEG",
	CategorySecurity:        "SEC",
	CategoryPerformanceHint: "PERF",
}

// IsValid reports whether c is one of the six known categories.
func (c Category) IsValid() bool {
	_, ok := categoryPrefixes[c]
	return ok
}

// String returns the wire form of the category.
func (c Category) String() string {
	return string(c)
}

// Prefix returns the ID prefix for the category (FUNC, NEG, ...).
func (c Category) Prefix() string {
	if p, ok := categoryPrefixes[c]; ok {
		return p
	}
	return "SCN"
}

// EmissionIndex returns the position of c in EmissionOrder, or len(EmissionOrder)
// for unknown categories.
func (c Category) EmissionIndex() int {
	for i, cat := range EmissionOrder {
		if cat == c {
			return i
		}
	}
	return len(EmissionOrder)
}

// ParseCategory converts a string to a Category, case-insensitively.
// Returns empty for unknown values.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return ""
}

// Priority is the risk tier assigned to a scenario.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Weight returns a numeric weight where higher means more important.
// Unknown priorities weigh zero.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ParsePriority converts a string to a Priority, case-insensitively.
// Returns empty for unknown values.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	}
	return ""
}

// Source identifies which generator variant produced a set.
type Source string

const (
	SourceExternal  Source = "external"
	SourceHeuristic Source = "heuristic"
)

// Scenario is a single generated test scenario.
type Scenario struct {
	ID             string   `json:"id"`
	Category       Category `json:"category"`
	Title          string   `json:"title"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
	Priority       Priority `json:"priority"`
	RiskRationale  string   `json:"risk_rationale"`
	Trace          []string `json:"trace"`
}

// Clone returns a deep copy of the scenario.
func (s Scenario) Clone() Scenario {
	c := s
	c.Steps = append([]string(nil), s.Steps...)
	c.Trace = append([]string{}, s.Trace...)
	return c
}

// Metadata summarizes the story a set was generated for.
type Metadata struct {
	StoryTitle              string   `json:"story_title"`
	Actors                  []string `json:"actors"`
	PrimaryGoal             string   `json:"primary_goal"`
	AcceptanceCriteriaCount int      `json:"acceptance_criteria_count"`
}

// Set is the result of one generation request. It is constructed fresh per
// request and not modified after it is returned.
type Set struct {
	Metadata  Metadata   `json:"metadata"`
	Scenarios []Scenario `json:"scenarios"`
	Source    Source     `json:"source,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata.Actors = append([]string{}, s.Metadata.Actors...)
	c.Scenarios = CloneAll(s.Scenarios)
	c.Warnings = append([]string(nil), s.Warnings...)
	return &c
}

// CountByCategory returns the number of scenarios per category.
func (s *Set) CountByCategory() map[Category]int {
	counts := make(map[Category]int)
	for _, sc := range s.Scenarios {
		counts[sc.Category]++
	}
	return counts
}

// CloneAll deep-copies a scenario slice.
func CloneAll(in []Scenario) []Scenario {
	if in == nil {
		return nil
	}
	out := make([]Scenario, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// FormatID builds a category-prefixed, zero-padded identifier such as FUNC-001.
func FormatID(c Category, seq int) string {
	return JoinID(c.Prefix(), seq)
}

// JoinID builds an identifier from a raw prefix and sequence number.
func JoinID(prefix string, seq int) string {
	return fmt.Sprintf("%s-%03d", prefix, seq)
}

// ParseID splits an identifier produced by FormatID into prefix and sequence.
// ok is false when id does not have the PREFIX-NNN shape.
func ParseID(id string) (prefix string, seq int, ok bool) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:idx], n, true
}

// CriterionRef formats the trace reference for a 1-based criterion index.
func CriterionRef(index int) string {
	return fmt.Sprintf("AC%d", index)
}
