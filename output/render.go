// Package output renders scenario sets for people and tools.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/c360studio/semtest/scenario"
)

// Format selects a renderer.
type Format string

const (
	FormatConsole  Format = "console"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formats lists the supported formats.
var Formats = []Format{FormatConsole, FormatJSON, FormatMarkdown}

// ParseFormat accepts a format name; "md" is an alias for markdown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "console", "text":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown output format %q (want console, json or markdown)", s)
}

// Extension returns the file extension conventionally used for f.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// Render writes sets in format f. JSON output is a single object for one
// set and an array otherwise; text formats separate sets with a blank line.
func Render(w io.Writer, f Format, sets ...*scenario.Set) error {
	if f == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(sets) == 1 {
			return enc.Encode(sets[0])
		}
		if sets == nil {
			sets = []*scenario.Set{}
		}
		return enc.Encode(sets)
	}

	var sb strings.Builder
	for i, set := range sets {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if f == FormatMarkdown {
			writeMarkdown(&sb, set)
		} else {
			writeConsole(&sb, set)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Coverage returns the categories present in set, in emission order.
func Coverage(set *scenario.Set) []string {
	counts := set.CountByCategory()
	var out []string
	for _, c := range scenario.EmissionOrder {
		if counts[c] > 0 {
			out = append(out, string(c))
		}
	}
	return out
}

var rule = strings.Repeat("=", 80)
var thin = strings.Repeat("-", 40)

func writeConsole(sb *strings.Builder, set *scenario.Set) {
	md := set.Metadata
	fmt.Fprintf(sb, "%s\nTEST SCENARIOS\n%s\n\n", rule, rule)
	fmt.Fprintf(sb, "User Story: %s\n", md.StoryTitle)
	if len(md.Actors) > 0 {
		fmt.Fprintf(sb, "Actors: %s\n", strings.Join(md.Actors, ", "))
	}
	if md.PrimaryGoal != "" {
		fmt.Fprintf(sb, "Goal: %s\n", md.PrimaryGoal)
	}
	fmt.Fprintf(sb, "Acceptance Criteria: %d\n", md.AcceptanceCriteriaCount)
	fmt.Fprintf(sb, "Total Test Scenarios: %d\n", len(set.Scenarios))
	fmt.Fprintf(sb, "Coverage Areas: %s\n", strings.Join(Coverage(set), ", "))
	if set.Source != "" {
		fmt.Fprintf(sb, "Generated By: %s\n", set.Source)
	}
	for _, w := range set.Warnings {
		fmt.Fprintf(sb, "Warning: %s\n", w)
	}
	sb.WriteString("\n" + rule + "\n")

	for i, sc := range set.Scenarios {
		fmt.Fprintf(sb, "\nTEST SCENARIO %d: %s\n%s\n", i+1, sc.ID, thin)
		fmt.Fprintf(sb, "Title: %s\n", sc.Title)
		fmt.Fprintf(sb, "Category: %s\n", sc.Category)
		fmt.Fprintf(sb, "Priority: %s\n", sc.Priority)
		if sc.RiskRationale != "" {
			fmt.Fprintf(sb, "Risk: %s\n", sc.RiskRationale)
		}
		if len(sc.Trace) > 0 {
			fmt.Fprintf(sb, "Traces: %s\n", strings.Join(sc.Trace, ", "))
		}
		sb.WriteString("\nTest Steps:\n")
		for n, step := range sc.Steps {
			fmt.Fprintf(sb, "  %d. %s\n", n+1, step)
		}
		fmt.Fprintf(sb, "\nExpected Result: %s\n%s\n", sc.ExpectedResult, thin)
	}
}

func writeMarkdown(sb *strings.Builder, set *scenario.Set) {
	md := set.Metadata
	fmt.Fprintf(sb, "# Test Scenarios: %s\n\n", md.StoryTitle)
	if len(md.Actors) > 0 {
		fmt.Fprintf(sb, "**Actors:** %s  \n", strings.Join(md.Actors, ", "))
	}
	if md.PrimaryGoal != "" {
		fmt.Fprintf(sb, "**Goal:** %s  \n", md.PrimaryGoal)
	}
	fmt.Fprintf(sb, "**Total Test Scenarios:** %d  \n", len(set.Scenarios))
	fmt.Fprintf(sb, "**Coverage Areas:** %s\n", strings.Join(Coverage(set), ", "))

	if len(set.Warnings) > 0 {
		sb.WriteString("\n> **Warnings**\n")
		for _, w := range set.Warnings {
			fmt.Fprintf(sb, "> - %s\n", w)
		}
	}

	for _, sc := range set.Scenarios {
		fmt.Fprintf(sb, "\n## %s: %s\n\n", sc.ID, sc.Title)
		fmt.Fprintf(sb, "| Category | Priority | Traces |\n|---|---|---|\n| %s | %s | %s |\n",
			sc.Category, sc.Priority, strings.Join(sc.Trace, ", "))
		if sc.RiskRationale != "" {
			fmt.Fprintf(sb, "\n_%s_\n", sc.RiskRationale)
		}
		sb.WriteString("\n**Test Steps:**\n\n")
		for n, step := range sc.Steps {
			fmt.Fprintf(sb, "%d. %s\n", n+1, step)
		}
		fmt.Fprintf(sb, "\n**Expected Result:** %s\n", sc.ExpectedResult)
	}
}
