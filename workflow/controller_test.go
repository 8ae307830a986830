package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semtest/llm"
	"github.com/c360studio/semtest/llm/testutil"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/story"
	"github.com/c360studio/semtest/workflow/validation"
)

const loginStory = `Title: User Login
As a registered user, I want to log into the system so that I can access my account.

Acceptance Criteria:
1. User can login with valid email and password
2. Invalid credentials show an error message
3. Rate limit after 5 failed attempts
4. Session expires after 30 minutes of inactivity
`

func parseLogin(t *testing.T) *story.UserStory {
	t.Helper()
	s, _, err := story.Parse(loginStory)
	require.NoError(t, err)
	return s
}

// externalJSON returns a schema-valid response with n scenarios.
func externalJSON(t *testing.T, n int) string {
	t.Helper()
	set := scenario.Set{
		Metadata: scenario.Metadata{StoryTitle: "Model Title", Actors: []string{"someone"}},
	}
	for i := 1; i <= n; i++ {
		set.Scenarios = append(set.Scenarios, scenario.Scenario{
			ID:             scenario.FormatID(scenario.CategoryFunctionalCore, i),
			Category:       scenario.CategoryFunctionalCore,
			Title:          fmt.Sprintf("External scenario %d", i),
			Steps:          []string{"Open the login page", "Submit credentials"},
			ExpectedResult: "The user is logged in",
			Priority:       scenario.PriorityHigh,
			Trace:          []string{scenario.CriterionRef(i)},
		})
	}
	data, err := json.Marshal(set)
	require.NoError(t, err)
	return string(data)
}

func testConfig() ControllerConfig {
	return ControllerConfig{
		Retry: validation.RetryConfig{
			MaxAttempts:       2,
			BackoffBase:       time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		AttemptTimeout: time.Second,
	}
}

func newTestController(mock *testutil.MockLLMClient, opts ...ControllerOption) *Controller {
	base := []ControllerOption{WithControllerConfig(testConfig())}
	if mock != nil {
		base = append(base, WithExternal(NewLLMGenerator(mock)))
	}
	return NewController(append(base, opts...)...)
}

func assertSchemaValid(t *testing.T, set *scenario.Set) {
	t.Helper()
	result := validation.NewValidator().ValidateSet(set)
	assert.True(t, result.Valid, "final set must be schema-valid: %v", result.Errors())
}

func TestController_ValidFirstAttempt(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Content: externalJSON(t, 4)}}}
	s := parseLogin(t)

	out, err := newTestController(mock).Run(context.Background(), s, RunOptions{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, scenario.SourceExternal, out.Source)
	assert.False(t, out.Escalated())
	assert.Equal(t, []State{StateStart, StateExternalAttempt, StateValidating, StateDone}, out.Trail)
	assert.Equal(t, 1, mock.GetCallCount())
	require.Len(t, out.Set.Scenarios, 4)
	assertSchemaValid(t, out.Set)

	// Metadata comes from the parsed story, not the model.
	assert.Equal(t, "User Login", out.Set.Metadata.StoryTitle)
	assert.Equal(t, []string{"registered user"}, out.Set.Metadata.Actors)
	assert.Equal(t, 4, out.Set.Metadata.AcceptanceCriteriaCount)

	require.Len(t, out.Attempts, 1)
	assert.Equal(t, 1, out.Attempts[0].AttemptNumber)
	assert.Empty(t, out.Attempts[0].ValidationErrors)

	tc := llm.GetTraceContext(mock.GetCapturedContext())
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, 1, tc.Attempt)
}

func TestController_FencedJSONIsCleaned(t *testing.T) {
	fenced := "Here are your scenarios:\n```json\n" + externalJSON(t, 4) + "\n```\nLet me know if you need more."
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Content: fenced}}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, mock.GetCallCount(), "cleaning must not consume a second external attempt")
	assert.Equal(t, scenario.SourceExternal, out.Source)
	assert.Equal(t, []State{StateStart, StateExternalAttempt, StateValidating, StateCleaning, StateDone}, out.Trail)
	require.Len(t, out.Attempts, 1)
	assert.True(t, out.Attempts[0].Cleaned)
	assertSchemaValid(t, out.Set)
}

func TestController_BracketedProseBeforeJSON(t *testing.T) {
	content := "Here are the scenarios [v1] you asked for:\n" + externalJSON(t, 4)
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Content: content}}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, mock.GetCallCount())
	assert.Equal(t, scenario.SourceExternal, out.Source)
	assert.Equal(t, []State{StateStart, StateExternalAttempt, StateValidating, StateCleaning, StateDone}, out.Trail)
	require.Len(t, out.Attempts, 1)
	assert.True(t, out.Attempts[0].Cleaned)
	assert.Empty(t, out.Attempts[0].ValidationErrors)
	require.Len(t, out.Set.Scenarios, 4)
	assertSchemaValid(t, out.Set)
}

func TestController_Termination(t *testing.T) {
	transient := llm.NewTransientError(errors.New("connection refused"))

	tests := []struct {
		name      string
		mock      *testutil.MockLLMClient
		wantCalls int
		wantTrail []State
	}{
		{
			name: "malformed text twice",
			mock: &testutil.MockLLMClient{Steps: []testutil.Step{
				{Content: "I cannot help with that."},
				{Content: "Sorry, still no."},
			}},
			wantCalls: 2,
			wantTrail: []State{
				StateStart, StateExternalAttempt, StateValidating,
				StateExternalAttempt, StateValidating, StateEscalated, StateDone,
			},
		},
		{
			name: "timeouts",
			mock: &testutil.MockLLMClient{Steps: []testutil.Step{
				{Delay: time.Minute},
				{Delay: time.Minute},
			}},
			wantCalls: 2,
			wantTrail: []State{
				StateStart, StateExternalAttempt, StateExternalAttempt, StateEscalated, StateDone,
			},
		},
		{
			name:      "transport failures",
			mock:      &testutil.MockLLMClient{Err: transient},
			wantCalls: 2,
			wantTrail: []State{
				StateStart, StateExternalAttempt, StateExternalAttempt, StateEscalated, StateDone,
			},
		},
		{
			name: "near-valid garbage then prose",
			mock: &testutil.MockLLMClient{Steps: []testutil.Step{
				{Content: "```json\n{\"scenarios\": [{\"id\": \"FUNC-001\",}\n```"},
				{Content: "Here you go: {not json"},
			}},
			wantCalls: 2,
			wantTrail: []State{
				StateStart, StateExternalAttempt, StateValidating, StateCleaning,
				StateExternalAttempt, StateValidating, StateEscalated, StateDone,
			},
		},
		{
			name: "transport failure then valid",
			mock: &testutil.MockLLMClient{Steps: []testutil.Step{
				{Err: transient},
				{Content: "__VALID__"},
			}},
			wantCalls: 2,
			wantTrail: []State{
				StateStart, StateExternalAttempt, StateExternalAttempt, StateValidating, StateDone,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range tt.mock.Steps {
				if tt.mock.Steps[i].Content == "__VALID__" {
					tt.mock.Steps[i].Content = externalJSON(t, 4)
				}
			}
			cfg := testConfig()
			cfg.AttemptTimeout = 20 * time.Millisecond

			out, err := newTestController(tt.mock, WithControllerConfig(cfg)).
				Run(context.Background(), parseLogin(t), RunOptions{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, tt.mock.GetCallCount())
			if diff := cmp.Diff(tt.wantTrail, out.Trail); diff != "" {
				t.Errorf("trail mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, StateDone, out.Trail[len(out.Trail)-1])
			assertSchemaValid(t, out.Set)
			assert.NotEmpty(t, out.Set.Scenarios)
		})
	}
}

func TestController_EscalationReplacesExternalOutput(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{
		{Content: "nope"},
		{Content: "still nope"},
	}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.True(t, out.Escalated())
	assert.Equal(t, scenario.SourceHeuristic, out.Set.Source)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, scenario.SourceExternal, out.Attempts[0].Source)
	assert.Equal(t, scenario.SourceExternal, out.Attempts[1].Source)
	assert.Equal(t, scenario.SourceHeuristic, out.Attempts[2].Source)
	for _, sc := range out.Set.Scenarios {
		assert.NotContains(t, sc.Title, "External scenario")
	}
}

func TestController_FatalErrorEscalatesImmediately(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: llm.NewFatalError(errors.New("HTTP 401: invalid API key"))}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, mock.GetCallCount())
	assert.True(t, out.Escalated())
	assert.Equal(t, []State{StateStart, StateExternalAttempt, StateEscalated, StateDone}, out.Trail)
	require.NotEmpty(t, out.Attempts)
	assert.Contains(t, out.Attempts[0].Error, "401")
	assert.Error(t, out.Attempts[0].Err)
}

func TestController_DryRun(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Content: externalJSON(t, 4)}}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 0, mock.GetCallCount())
	assert.Equal(t, []State{StateStart, StateEscalated, StateDone}, out.Trail)
	assert.Equal(t, scenario.SourceHeuristic, out.Source)
	assertSchemaValid(t, out.Set)
}

func TestController_NoExternalGenerator(t *testing.T) {
	out, err := newTestController(nil).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []State{StateStart, StateEscalated, StateDone}, out.Trail)
	assert.Equal(t, scenario.SourceHeuristic, out.Source)
}

func TestController_RetryPromptCarriesFeedback(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{
		{Content: `{"scenarios": [{"id": "FUNC-001", "category": "functional-core"}]}`},
		{Content: externalJSON(t, 4)},
	}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, scenario.SourceExternal, out.Source)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	first := reqs[0].Messages[len(reqs[0].Messages)-1].Content
	second := reqs[1].Messages[len(reqs[1].Messages)-1].Content

	assert.NotContains(t, first, "## Validation Failed")
	assert.Contains(t, second, "## Validation Failed")
	assert.Contains(t, second, "missing_field")
	assert.Equal(t, "system", reqs[1].Messages[0].Role)

	require.Len(t, out.Attempts, 2)
	assert.NotEmpty(t, out.Attempts[0].ValidationErrors)
}

func TestController_BudgetDrivesBackoffAndFeedback(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{
		{Content: `{"scenarios": [{"id": "FUNC-001", "category": "functional-core"}]}`},
		{Err: llm.NewTransientError(errors.New("503"))},
		{Content: externalJSON(t, 4)},
	}}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 3

	c := newTestController(mock, WithControllerConfig(cfg))
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	out, err := c.Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, scenario.SourceExternal, out.Source)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)

	reqs := mock.Requests()
	require.Len(t, reqs, 3)
	second := reqs[1].Messages[len(reqs[1].Messages)-1].Content
	third := reqs[2].Messages[len(reqs[2].Messages)-1].Content
	assert.Contains(t, second, "## Validation Failed")
	// A transport failure carries no validation feedback forward.
	assert.NotContains(t, third, "## Validation Failed")
}

func TestController_ImplausibleCount(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{
		{Content: externalJSON(t, 1)},
		{Content: externalJSON(t, 2)},
	}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.True(t, out.Escalated())
	require.GreaterOrEqual(t, len(out.Attempts), 2)
	assert.Contains(t, strings.Join(out.Attempts[0].ValidationErrors, "\n"), string(validation.CodeImplausibleCount))
}

func TestController_ImplausibleCountRespectsCap(t *testing.T) {
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Content: externalJSON(t, 2)}}}

	out, err := newTestController(mock).Run(context.Background(), parseLogin(t), RunOptions{MaxScenarios: 2})
	require.NoError(t, err)

	assert.Equal(t, scenario.SourceExternal, out.Source)
}

func TestController_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Content: externalJSON(t, 4)}}}
	_, err := newTestController(mock).Run(ctx, parseLogin(t), RunOptions{})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.GetCallCount())
}

func TestController_CancelDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{{Delay: time.Minute}}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestController(mock).Run(ctx, parseLogin(t), RunOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	issues    []string
	escalated int
	runs      int
}

func (o *recordingObserver) AttemptFinished(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ValidationIssue(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issues = append(o.issues, code)
}

func (o *recordingObserver) Escalated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.escalated++
}

func (o *recordingObserver) RunFinished(scenario.Source, time.Duration, *scenario.Set) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
}

func TestController_Observer(t *testing.T) {
	obs := &recordingObserver{}
	mock := &testutil.MockLLMClient{Steps: []testutil.Step{
		{Content: "```json\n{broken\n```"},
		{Err: llm.NewTransientError(errors.New("reset by peer"))},
	}}

	_, err := newTestController(mock, WithObserver(obs)).Run(context.Background(), parseLogin(t), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{OutcomeInvalid, OutcomeTransportError}, obs.outcomes)
	assert.Contains(t, obs.issues, string(validation.CodeMalformedJSON))
	assert.Equal(t, 1, obs.escalated)
}
