// Package validation checks candidate scenario sets against the scenario
// schema. It reports every structural problem it finds, each with a distinct
// code, so the caller can choose between a cleaning pass, a retry with
// feedback, or escalation to the heuristic generator.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semtest/scenario"
)

// IssueCode identifies the kind of structural failure.
type IssueCode string

const (
	CodeMalformedJSON       IssueCode = "malformed_json"
	CodeMissingField        IssueCode = "missing_field"
	CodeWrongType           IssueCode = "wrong_type"
	CodeEmptySteps          IssueCode = "empty_steps"
	CodeEmptyExpectedResult IssueCode = "empty_expected_result"
	CodeUnknownCategory     IssueCode = "unknown_category"
	CodeUnknownPriority     IssueCode = "unknown_priority"
	CodeDuplicateID         IssueCode = "duplicate_id"
	CodeEmptyScenarios      IssueCode = "empty_scenarios"
	// CodeImplausibleCount is raised by callers that cross-check the number
	// of scenarios against the story, not by Validate itself.
	CodeImplausibleCount IssueCode = "implausible_count"
)

// SetLevel is the Issue.Index used for problems that concern the whole set.
const SetLevel = -1

// Issue is a single validation failure.
type Issue struct {
	Code    IssueCode `json:"code"`
	Index   int       `json:"index"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	if i.Index == SetLevel {
		return fmt.Sprintf("[%s] %s", i.Code, i.Message)
	}
	if i.Field != "" {
		return fmt.Sprintf("[%s] scenario %d, %s: %s", i.Code, i.Index, i.Field, i.Message)
	}
	return fmt.Sprintf("[%s] scenario %d: %s", i.Code, i.Index, i.Message)
}

// Result contains the outcome of validating one candidate.
type Result struct {
	Valid    bool          `json:"valid"`
	Issues   []Issue       `json:"issues,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Set      *scenario.Set `json:"-"`

	raw string
}

func (r *Result) add(code IssueCode, index int, field, format string, args ...any) {
	r.Valid = false
	r.Issues = append(r.Issues, Issue{
		Code:    code,
		Index:   index,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// Fail records an issue found outside Validate, such as a plausibility check.
func (r *Result) Fail(code IssueCode, message string) {
	r.add(code, SetLevel, "", "%s", message)
	r.Set = nil
}

// Errors returns the issues as strings, in the order they were found.
func (r *Result) Errors() []string {
	out := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		out[i] = issue.String()
	}
	return out
}

// HasCode reports whether any issue carries code.
func (r *Result) HasCode(code IssueCode) bool {
	for _, issue := range r.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// NearValid reports whether the candidate failed only to parse as JSON while
// still containing something that looks like a JSON document, e.g. a fenced
// block or an object wrapped in prose.
func (r *Result) NearValid() bool {
	if r.Valid || len(r.Issues) != 1 || r.Issues[0].Code != CodeMalformedJSON {
		return false
	}
	return strings.ContainsAny(r.raw, "{[")
}

// FormatFeedback formats validation results as feedback for a retry prompt.
func (r *Result) FormatFeedback() string {
	if r.Valid {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Validation Failed\n\n")
	sb.WriteString("The generated scenarios do not match the required JSON schema.\n\n")

	if len(r.Issues) > 0 {
		sb.WriteString("### Issues\n\n")
		for _, issue := range r.Issues {
			sb.WriteString(fmt.Sprintf("- %s\n", issue))
		}
		sb.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("### Warnings\n\n")
		for _, warning := range r.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", warning))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Please respond again with a single JSON object addressing these issues.\n")

	return sb.String()
}

// Validator validates candidate scenario sets.
type Validator struct {
	// RequiredFields lists the scenario fields that must be present.
	RequiredFields []string
}

// NewValidator creates a validator with the default required fields.
func NewValidator() *Validator {
	return &Validator{
		RequiredFields: []string{"id", "category", "title", "steps", "expected_result", "priority"},
	}
}

// Validate checks raw candidate text. It accepts an object with a
// "scenarios" array (and optional "metadata") or a bare array of scenarios.
// Unknown fields are ignored. All issues are accumulated.
func (v *Validator) Validate(raw string) *Result {
	result := &Result{Valid: true, raw: raw}

	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		result.add(CodeMalformedJSON, SetLevel, "", "response is not valid JSON: %v", err)
		return result
	}

	set := &scenario.Set{}
	var items []any
	switch d := doc.(type) {
	case []any:
		items = d
	case map[string]any:
		if md, ok := d["metadata"]; ok && md != nil {
			v.decodeMetadata(md, set, result)
		}
		rawScenarios, ok := d["scenarios"]
		if !ok {
			result.add(CodeMissingField, SetLevel, "scenarios", "top-level \"scenarios\" array is missing")
			return result
		}
		arr, ok := rawScenarios.([]any)
		if !ok {
			result.add(CodeWrongType, SetLevel, "scenarios", "\"scenarios\" must be an array, got %s", typeName(rawScenarios))
			return result
		}
		items = arr
	default:
		result.add(CodeWrongType, SetLevel, "", "top level must be an object or array, got %s", typeName(doc))
		return result
	}

	if len(items) == 0 {
		result.add(CodeEmptyScenarios, SetLevel, "scenarios", "no scenarios were generated")
		return result
	}

	seen := make(map[string]int, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			result.add(CodeWrongType, i, "", "scenario must be an object, got %s", typeName(item))
			continue
		}
		sc, ok := v.decodeScenario(i, obj, result)
		if sc.ID != "" {
			if first, dup := seen[sc.ID]; dup {
				result.add(CodeDuplicateID, i, "id", "id %q already used by scenario %d", sc.ID, first)
				continue
			}
			seen[sc.ID] = i
		}
		if ok {
			set.Scenarios = append(set.Scenarios, sc)
		}
	}

	if result.Valid {
		result.Set = set
	}
	return result
}

// ValidateSet checks an already-typed set by running it through the same
// rules as external output.
func (v *Validator) ValidateSet(set *scenario.Set) *Result {
	if set == nil {
		result := &Result{Valid: true}
		result.add(CodeEmptyScenarios, SetLevel, "scenarios", "no scenario set")
		return result
	}
	data, err := json.Marshal(set)
	if err != nil {
		result := &Result{Valid: true}
		result.add(CodeMalformedJSON, SetLevel, "", "encode set: %v", err)
		return result
	}
	return v.Validate(string(data))
}

func (v *Validator) decodeScenario(index int, obj map[string]any, result *Result) (scenario.Scenario, bool) {
	var sc scenario.Scenario
	before := len(result.Issues)

	for _, field := range v.RequiredFields {
		if val, ok := obj[field]; !ok || val == nil {
			result.add(CodeMissingField, index, field, "required field is missing")
		}
	}

	if s, ok := stringField(index, obj, "id", result); ok {
		if strings.TrimSpace(s) == "" {
			result.add(CodeMissingField, index, "id", "id is empty")
		}
		sc.ID = strings.TrimSpace(s)
	}
	if s, ok := stringField(index, obj, "title", result); ok {
		if strings.TrimSpace(s) == "" {
			result.add(CodeMissingField, index, "title", "title is empty")
		}
		sc.Title = strings.TrimSpace(s)
	}
	if s, ok := stringField(index, obj, "category", result); ok {
		sc.Category = scenario.ParseCategory(s)
		if sc.Category == "" {
			result.add(CodeUnknownCategory, index, "category", "unknown category %q", s)
		}
	}
	if s, ok := stringField(index, obj, "priority", result); ok {
		sc.Priority = scenario.ParsePriority(s)
		if sc.Priority == "" {
			result.add(CodeUnknownPriority, index, "priority", "unknown priority %q (want High, Medium, or Low)", s)
		}
	}
	if s, ok := stringField(index, obj, "expected_result", result); ok {
		if strings.TrimSpace(s) == "" {
			result.add(CodeEmptyExpectedResult, index, "expected_result", "expected_result is empty")
		}
		sc.ExpectedResult = strings.TrimSpace(s)
	}
	if s, ok := stringField(index, obj, "risk_rationale", result); ok {
		sc.RiskRationale = strings.TrimSpace(s)
	}

	if steps, ok := stringList(index, obj, "steps", result); ok {
		if len(steps) == 0 {
			result.add(CodeEmptySteps, index, "steps", "steps must contain at least one step")
		}
		sc.Steps = steps
	}
	if trace, ok := stringList(index, obj, "trace", result); ok {
		sc.Trace = trace
	}
	if sc.Trace == nil {
		sc.Trace = []string{}
	}

	return sc, len(result.Issues) == before
}

func (v *Validator) decodeMetadata(raw any, set *scenario.Set, result *Result) {
	obj, ok := raw.(map[string]any)
	if !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("metadata ignored: expected object, got %s", typeName(raw)))
		return
	}
	if s, ok := obj["story_title"].(string); ok {
		set.Metadata.StoryTitle = s
	}
	if s, ok := obj["primary_goal"].(string); ok {
		set.Metadata.PrimaryGoal = s
	}
	if n, ok := obj["acceptance_criteria_count"].(float64); ok {
		set.Metadata.AcceptanceCriteriaCount = int(n)
	}
	if arr, ok := obj["actors"].([]any); ok {
		for _, a := range arr {
			if s, ok := a.(string); ok {
				set.Metadata.Actors = append(set.Metadata.Actors, s)
			}
		}
	}
}

// stringField reads an optional string. A present value of another type is
// reported as wrong_type.
func stringField(index int, obj map[string]any, field string, result *Result) (string, bool) {
	val, ok := obj[field]
	if !ok || val == nil {
		return "", false
	}
	s, ok := val.(string)
	if !ok {
		result.add(CodeWrongType, index, field, "expected string, got %s", typeName(val))
		return "", false
	}
	return s, true
}

// stringList reads an optional array of non-blank strings.
func stringList(index int, obj map[string]any, field string, result *Result) ([]string, bool) {
	val, ok := obj[field]
	if !ok || val == nil {
		return nil, false
	}
	arr, ok := val.([]any)
	if !ok {
		result.add(CodeWrongType, index, field, "expected array of strings, got %s", typeName(val))
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for j, item := range arr {
		s, ok := item.(string)
		if !ok {
			result.add(CodeWrongType, index, field, "element %d: expected string, got %s", j, typeName(item))
			return nil, false
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// ValidateScenarios is a convenience function for validating raw output
// with the default validator.
func ValidateScenarios(raw string) *Result {
	return NewValidator().Validate(raw)
}
