// Package prompts holds the prompt templates sent to the external scenario
// generator.
package prompts

import (
	"fmt"
	"strings"
)

// SystemPrompt is the persona and coverage brief for scenario generation.
const SystemPrompt = `You are an expert QA engineer and test case generator. Your task is to analyze user stories and generate comprehensive test scenarios.

For each user story, you should:
1. Identify all testable aspects and edge cases
2. Create positive, negative, and boundary test scenarios
3. Include concrete test steps and expected results
4. Prioritize tests based on risk and importance
5. Trace every scenario to the acceptance criteria it verifies

Cover happy paths, error handling, boundary conditions, input validation, and, when the story
touches them, security and performance. Every scenario must be executable by any QA tester
without further explanation.`

// ScenarioParams contains the story data needed to generate scenarios.
type ScenarioParams struct {
	Title   string
	Story   string
	Actors  []string
	Goal    string
	Benefit string

	// Criteria are the acceptance criteria in order; they are labelled AC1..ACn.
	Criteria []string

	// MaxScenarios caps the number of scenarios requested. 0 lets the model choose.
	MaxScenarios int

	// Feedback is the validation report from a previous attempt, if any.
	Feedback string
}

// ScenarioPrompt returns the user prompt for generating scenarios from a story.
func ScenarioPrompt(params ScenarioParams) string {
	var sb strings.Builder

	sb.WriteString("Please generate test scenarios for the following user story.\n\n")
	fmt.Fprintf(&sb, "## Story: %s\n\n", params.Title)
	fmt.Fprintf(&sb, "**User Story:** %s\n\n", strings.TrimSpace(params.Story))
	if len(params.Actors) > 0 {
		fmt.Fprintf(&sb, "**Actors:** %s\n", strings.Join(params.Actors, ", "))
	}
	if params.Goal != "" {
		fmt.Fprintf(&sb, "**Goal:** %s\n", params.Goal)
	}
	if params.Benefit != "" {
		fmt.Fprintf(&sb, "**Benefit:** %s\n", params.Benefit)
	}

	sb.WriteString("\n**Acceptance Criteria:**\n")
	if len(params.Criteria) == 0 {
		sb.WriteString("(none given; derive scenarios from the goal)\n")
	}
	for i, c := range params.Criteria {
		fmt.Fprintf(&sb, "- AC%d: %s\n", i+1, c)
	}

	sb.WriteString("\n## Output Format\n\nReturn ONLY valid JSON in this exact format:\n\n")
	sb.WriteString("```json\n" + ExampleResponse + "\n```\n")
	sb.WriteString(rules)

	if params.MaxScenarios > 0 {
		fmt.Fprintf(&sb, "\nGenerate at most %d scenarios, at least one per acceptance criterion.\n", params.MaxScenarios)
	} else {
		sb.WriteString("\nGenerate 5-8 diverse scenarios, at least one per acceptance criterion.\n")
	}

	if params.Feedback != "" {
		sb.WriteString("\n## Previous Attempt\n\n")
		sb.WriteString("Your previous response was rejected.\n\n")
		sb.WriteString(params.Feedback)
	}

	sb.WriteString("\nGenerate scenarios now. Return ONLY the JSON output, no other text.\n")
	return sb.String()
}

// ExampleResponse shows the model the exact response shape.
const ExampleResponse = `{
  "metadata": {
    "story_title": "User Login",
    "actors": ["registered user"],
    "primary_goal": "log into the system",
    "acceptance_criteria_count": 2
  },
  "scenarios": [
    {
      "id": "FUNC-001",
      "category": "functional-core",
      "title": "Login succeeds with valid email and password",
      "steps": [
        "Open the login page",
        "Enter a registered email and its password",
        "Submit the form"
      ],
      "expected_result": "The user is redirected to the dashboard",
      "priority": "High",
      "risk_rationale": "Core business flow traced to acceptance criteria",
      "trace": ["AC1"]
    },
    {
      "id": "BND-001",
      "category": "boundary",
      "title": "Account locks exactly at the fifth failed attempt",
      "steps": [
        "Fail to log in 4 times and confirm the account is still open",
        "Fail a 5th time and confirm the account locks",
        "Attempt a 6th login and confirm it is rejected"
      ],
      "expected_result": "Locking happens on the fifth failure and not before",
      "priority": "Medium",
      "risk_rationale": "Off-by-one risk at numeric threshold",
      "trace": ["AC2"]
    }
  ]
}`

const rules = `
## Rules

1. "category" is one of: functional-core, validation, boundary, negative, security, performance-hint
2. "priority" is one of: High, Medium, Low
3. "id" is the category prefix (FUNC, VAL, BND, NEG, SEC, PERF) and a three-digit number, unique in the response
4. "steps" has at least one concrete step; "expected_result" is never empty
5. "trace" lists the acceptance criteria (AC1, AC2, ...) the scenario verifies; it may be empty
6. Do not wrap the JSON in prose or add comments
`

// ScenarioResponse represents the expected JSON response from scenario generation.
type ScenarioResponse struct {
	Metadata  ResponseMetadata    `json:"metadata"`
	Scenarios []GeneratedScenario `json:"scenarios"`
}

// ResponseMetadata mirrors the set metadata the model echoes back.
type ResponseMetadata struct {
	StoryTitle              string   `json:"story_title"`
	Actors                  []string `json:"actors"`
	PrimaryGoal             string   `json:"primary_goal"`
	AcceptanceCriteriaCount int      `json:"acceptance_criteria_count"`
}

// GeneratedScenario represents a scenario produced by the LLM.
type GeneratedScenario struct {
	ID             string   `json:"id"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result"`
	Priority       string   `json:"priority"`
	RiskRationale  string   `json:"risk_rationale,omitempty"`
	Trace          []string `json:"trace,omitempty"`
}
