// Package heuristic synthesizes test scenarios from a parsed user story
// without any external model. It is deterministic: the same story and limit
// always produce the same scenario set.
package heuristic

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/scenario/priority"
	"github.com/c360studio/semtest/story"
)

// Generator produces rule-based scenarios. It holds only compiled
// configuration and is safe for concurrent use.
type Generator struct {
	match    *matcher
	priority *priority.Engine
}

// New creates a generator from a vocabulary and a priority engine.
// A nil engine uses the default weights.
func New(vocab Vocabulary, engine *priority.Engine) (*Generator, error) {
	m, err := compileVocabulary(vocab)
	if err != nil {
		return nil, err
	}
	if engine == nil {
		engine = priority.NewDefaultEngine()
	}
	return &Generator{match: m, priority: engine}, nil
}

// NewDefault creates a generator with the built-in vocabulary and weights.
func NewDefault() *Generator {
	g, err := New(DefaultVocabulary(), nil)
	if err != nil {
		panic("default vocabulary does not compile: " + err.Error())
	}
	return g
}

// emitter hands out category-local sequence numbers.
type emitter struct {
	counters  map[scenario.Category]int
	scenarios []scenario.Scenario
}

func (e *emitter) add(s scenario.Scenario) {
	e.counters[s.Category]++
	s.ID = scenario.FormatID(s.Category, e.counters[s.Category])
	if s.Trace == nil {
		s.Trace = []string{}
	}
	e.scenarios = append(e.scenarios, s)
}

// Generate builds the scenario set for a story. maxScenarios <= 0 means no
// limit. Sequence counters restart at 1 on every call.
func (g *Generator) Generate(s *story.UserStory, maxScenarios int) *scenario.Set {
	actor := s.PrimaryActor()
	subject := s.Goal
	if subject == "" {
		subject = s.Title
	}

	var functional, negative, boundary []scenario.Scenario
	var securityRefs []string
	securityHit := g.match.isSecurity(s.Title) || g.match.isSecurity(s.Goal) || g.match.isSecurity(s.Text)

	for i, criterion := range s.AcceptanceCriteria {
		ref := s.CriterionID(i + 1)
		functional = append(functional, functionalScenario(criterion, ref, actor, s.Goal))

		if g.match.isValidation(criterion) {
			negative = append(negative, negativeScenario(criterion, ref, actor))
		}
		if n, ok := g.match.threshold(criterion); ok {
			boundary = append(boundary, boundaryScenario(criterion, ref, n))
		}
		if g.match.isSecurity(criterion) {
			securityHit = true
			securityRefs = append(securityRefs, ref)
		}
	}

	if len(s.AcceptanceCriteria) == 0 {
		functional = append(functional, scenario.Scenario{
			Category: scenario.CategoryFunctionalCore,
			Title:    "Verify " + lowerFirst(subject),
			Steps: []string{
				fmt.Sprintf("Sign in or start the application as the %s", actor),
				fmt.Sprintf("Perform the action to %s", lowerFirst(subject)),
				"Observe the system response",
			},
			ExpectedResult: fmt.Sprintf("The %s is able to %s", actor, lowerFirst(subject)),
		})
	}

	e := &emitter{counters: make(map[scenario.Category]int)}
	for _, sc := range functional {
		e.add(sc)
	}
	for _, sc := range negative {
		e.add(sc)
	}
	for _, sc := range boundary {
		e.add(sc)
	}
	if securityHit {
		e.add(securityScenario(subject, securityRefs))
	}
	e.add(performanceScenario(subject))

	scenarios := g.priority.Prioritize(e.scenarios)
	scenarios = g.Truncate(scenarios, maxScenarios)

	return &scenario.Set{
		Metadata:  s.Metadata(),
		Scenarios: scenarios,
		Source:    scenario.SourceHeuristic,
	}
}

// Truncate keeps at most limit scenarios. Scenarios are ranked by priority
// (from the engine's weight map) and then by position, and the lowest ranked
// are dropped. Survivors keep their original order. limit <= 0 keeps all.
func (g *Generator) Truncate(in []scenario.Scenario, limit int) []scenario.Scenario {
	if limit <= 0 || len(in) <= limit {
		return in
	}

	idx := make([]int, len(in))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa := g.priority.PriorityFor(in[idx[a]].Category).Weight()
		pb := g.priority.PriorityFor(in[idx[b]].Category).Weight()
		if pa != pb {
			return pa > pb
		}
		return idx[a] < idx[b]
	})

	keep := make(map[int]bool, limit)
	for _, i := range idx[:limit] {
		keep[i] = true
	}
	out := make([]scenario.Scenario, 0, limit)
	for i, sc := range in {
		if keep[i] {
			out = append(out, sc)
		}
	}
	return out
}

func functionalScenario(criterion, ref, actor, goal string) scenario.Scenario {
	action := "perform the action described by the criterion"
	if goal != "" {
		action = "perform the action to " + lowerFirst(goal)
	}
	return scenario.Scenario{
		Category: scenario.CategoryFunctionalCore,
		Title:    "Verify " + lowerFirst(criterion),
		Steps: []string{
			fmt.Sprintf("Set up the preconditions required by: %s", criterion),
			fmt.Sprintf("As the %s, %s", actor, action),
			fmt.Sprintf("Check that %s", lowerFirst(criterion)),
		},
		ExpectedResult: fmt.Sprintf("The system satisfies the criterion: %s", criterion),
		Trace:          []string{ref},
	}
}

func negativeScenario(criterion, ref, actor string) scenario.Scenario {
	return scenario.Scenario{
		Category: scenario.CategoryNegative,
		Title:    "Reject input that violates " + lowerFirst(criterion),
		Steps: []string{
			fmt.Sprintf("Prepare input that violates: %s", criterion),
			fmt.Sprintf("Submit the invalid input as the %s", actor),
			"Observe the error handling",
		},
		ExpectedResult: "The system rejects the input with a clear error message and no state change",
		Trace:          []string{ref},
	}
}

func boundaryScenario(criterion, ref string, n *big.Int) scenario.Scenario {
	one := big.NewInt(1)
	below := new(big.Int).Sub(n, one)
	above := new(big.Int).Add(n, one)
	return scenario.Scenario{
		Category: scenario.CategoryBoundary,
		Title:    fmt.Sprintf("Boundary values around %d for %s", n, lowerFirst(criterion)),
		Steps: []string{
			fmt.Sprintf("Exercise the criterion with %d (just below the threshold)", below),
			fmt.Sprintf("Exercise the criterion with %d (at the threshold)", n),
			fmt.Sprintf("Exercise the criterion with %d (just above the threshold)", above),
		},
		ExpectedResult: fmt.Sprintf("Behavior changes exactly at %d as stated: %s", n, criterion),
		Trace:          []string{ref},
	}
}

func securityScenario(subject string, refs []string) scenario.Scenario {
	return scenario.Scenario{
		Category: scenario.CategorySecurity,
		Title:    "Deny unauthorized access and expired sessions when trying to " + lowerFirst(subject),
		Steps: []string{
			"Attempt the operation without valid credentials",
			"Attempt the operation with an expired or revoked session",
			"Observe the access control response",
		},
		ExpectedResult: "Access is denied, no protected data is exposed, and the user is asked to authenticate again",
		Trace:          append([]string{}, refs...),
	}
}

func performanceScenario(subject string) scenario.Scenario {
	return scenario.Scenario{
		Category: scenario.CategoryPerformanceHint,
		Title:    "Responsiveness when trying to " + lowerFirst(subject),
		Steps: []string{
			"Execute the main flow under representative load",
			"Measure the response time of each step",
		},
		ExpectedResult: "The flow completes within the agreed response-time budget",
	}
}

// lowerFirst lowercases the first letter unless the first word looks like an
// acronym ("API returns ...").
func lowerFirst(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	first := strings.Fields(s)[0]
	if len(first) > 1 && strings.ToUpper(first) == first {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}
