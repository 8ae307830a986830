package validation

import (
	"strings"
	"testing"

	"github.com/c360studio/semtest/scenario"
)

const validSet = `{
  "metadata": {"story_title": "User Login", "actors": ["registered user"], "primary_goal": "log into the system", "acceptance_criteria_count": 1},
  "scenarios": [
    {
      "id": "FUNC-001",
      "category": "functional-core",
      "title": "Valid login",
      "steps": ["Open the login page", "Enter valid credentials", "Submit"],
      "expected_result": "User lands on the dashboard",
      "priority": "High",
      "risk_rationale": "Core flow",
      "trace": ["AC1"]
    },
    {
      "id": "SEC-001",
      "category": "Security",
      "title": "Expired session",
      "steps": ["Let the session expire", "Reload the dashboard"],
      "expected_result": "User is redirected to login",
      "priority": "high",
      "description": "extra fields are ignored"
    }
  ]
}`

func TestValidateScenarios(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name        string
		content     string
		expectValid bool
		expectCodes []IssueCode
	}{
		{
			name:        "valid object",
			content:     validSet,
			expectValid: true,
		},
		{
			name:        "valid bare array",
			content:     `[{"id":"NEG-001","category":"negative","title":"Bad password","steps":["Enter a wrong password"],"expected_result":"Error shown","priority":"Medium"}]`,
			expectValid: true,
		},
		{
			name:        "malformed json",
			content:     `Here are your scenarios: {"scenarios": [}`,
			expectCodes: []IssueCode{CodeMalformedJSON},
		},
		{
			name:        "missing scenarios key",
			content:     `{"metadata": {}}`,
			expectCodes: []IssueCode{CodeMissingField},
		},
		{
			name:        "scenarios not an array",
			content:     `{"scenarios": "none"}`,
			expectCodes: []IssueCode{CodeWrongType},
		},
		{
			name:        "empty scenarios",
			content:     `{"scenarios": []}`,
			expectCodes: []IssueCode{CodeEmptyScenarios},
		},
		{
			name: "accumulates every issue",
			content: `{"scenarios": [
				{"id":"A-1","category":"exploratory","title":"x","steps":[],"expected_result":" ","priority":"Urgent"},
				{"id":"A-1","category":"boundary","title":"y","steps":["one"],"expected_result":"ok","priority":"Low"},
				{"id":"A-2","category":"boundary","title":"z","steps":"one","expected_result":"ok"}
			]}`,
			expectCodes: []IssueCode{
				CodeUnknownCategory, CodeUnknownPriority, CodeEmptySteps, CodeEmptyExpectedResult,
				CodeDuplicateID, CodeWrongType, CodeMissingField,
			},
		},
		{
			name:        "scenario is not an object",
			content:     `{"scenarios": ["just a string"]}`,
			expectCodes: []IssueCode{CodeWrongType},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.Validate(tt.content)

			if result.Valid != tt.expectValid {
				t.Errorf("expected valid=%v, got valid=%v", tt.expectValid, result.Valid)
				t.Logf("Issues: %v", result.Errors())
			}
			for _, code := range tt.expectCodes {
				if !result.HasCode(code) {
					t.Errorf("expected issue %q, got %v", code, result.Errors())
				}
			}
			if result.Valid && result.Set == nil {
				t.Error("valid result must carry the decoded set")
			}
			if !result.Valid && result.Set != nil {
				t.Error("invalid result must not carry a set")
			}
		})
	}
}

func TestValidateNormalizesEnums(t *testing.T) {
	result := ValidateScenarios(validSet)
	if !result.Valid {
		t.Fatalf("expected valid, got %v", result.Errors())
	}

	got := result.Set.Scenarios[1]
	if got.Category != scenario.CategorySecurity {
		t.Errorf("expected category %q, got %q", scenario.CategorySecurity, got.Category)
	}
	if got.Priority != scenario.PriorityHigh {
		t.Errorf("expected priority High, got %q", got.Priority)
	}
	if got.Trace == nil || len(got.Trace) != 0 {
		t.Errorf("expected empty non-nil trace, got %#v", got.Trace)
	}
	if result.Set.Metadata.StoryTitle != "User Login" {
		t.Errorf("expected metadata to be decoded, got %+v", result.Set.Metadata)
	}
}

func TestNearValid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"fenced json", "```json\n{\"scenarios\": []}\n```", true},
		{"trailing prose", `{"scenarios": []} Hope this helps!`, true},
		{"plain prose", "I cannot help with that.", false},
		{"valid but wrong shape", `{"metadata": {}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateScenarios(tt.content)
			if got := result.NearValid(); got != tt.want {
				t.Errorf("NearValid() = %v, want %v (issues %v)", got, tt.want, result.Errors())
			}
		})
	}
}

func TestValidateSet(t *testing.T) {
	set := &scenario.Set{
		Scenarios: []scenario.Scenario{{
			ID:             "PERF-001",
			Category:       scenario.CategoryPerformanceHint,
			Title:          "Responsiveness",
			Steps:          []string{"Measure"},
			ExpectedResult: "Fast enough",
			Priority:       scenario.PriorityLow,
		}},
	}

	result := NewValidator().ValidateSet(set)
	if !result.Valid {
		t.Errorf("expected valid set, got %v", result.Errors())
	}

	result = NewValidator().ValidateSet(nil)
	if result.Valid || !result.HasCode(CodeEmptyScenarios) {
		t.Errorf("expected empty_scenarios for nil set, got %v", result.Errors())
	}
}

func TestFormatFeedback(t *testing.T) {
	result := ValidateScenarios(`{"scenarios": [{"id": "X-1"}]}`)
	if result.Valid {
		t.Fatal("expected invalid result")
	}

	feedback := result.FormatFeedback()

	if !strings.Contains(feedback, "## Validation Failed") {
		t.Error("feedback should contain header")
	}
	if !strings.Contains(feedback, "missing_field") {
		t.Error("feedback should list issue codes")
	}
	if !strings.Contains(feedback, "single JSON object") {
		t.Error("feedback should ask for a JSON response")
	}

	ok := ValidateScenarios(validSet)
	if ok.FormatFeedback() != "" {
		t.Error("valid result should produce no feedback")
	}
}

func TestResultFail(t *testing.T) {
	result := ValidateScenarios(validSet)
	result.Fail(CodeImplausibleCount, "2 scenarios for 4 acceptance criteria")

	if result.Valid {
		t.Error("expected Fail to invalidate the result")
	}
	if result.Set != nil {
		t.Error("expected Fail to drop the decoded set")
	}
	if !result.HasCode(CodeImplausibleCount) {
		t.Errorf("expected implausible_count, got %v", result.Errors())
	}
}
