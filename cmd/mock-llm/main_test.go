package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semtest/llm"
	_ "github.com/c360studio/semtest/llm/providers"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/workflow"
	"github.com/c360studio/semtest/workflow/validation"
)

const validSet = `{"metadata":{"story_title":"User Login","actors":["registered user"]},"scenarios":[` +
	`{"id":"FUNC-001","category":"functional-core","title":"Valid login","steps":["Open the login page","Submit valid credentials"],` +
	`"expected_result":"The user is logged in","priority":"High","risk_rationale":"Core flow","trace":["AC1"]}]}`

const loginStory = `Title: User Login
As a registered user, I want to log into the system so that I can access my account.

Acceptance Criteria:
1. User can login with valid email and password
`

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "scenarios.json", validSet)
	writeFixture(t, dir, "prose.txt", "I cannot help with that.")

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}
	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
	if fixtures["prose"][0].Content != "I cannot help with that." {
		t.Errorf("non-JSON fixture should be served verbatim, got %q", fixtures["prose"][0].Content)
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "scenarios.1.txt", "Here are your scenarios!")
	writeFixture(t, dir, "scenarios.2.status", "503\n")
	writeFixture(t, dir, "scenarios.10.md", "```json\n"+validSet+"\n```")
	writeFixture(t, dir, "scenarios.json", validSet)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["scenarios"]
	if len(seq) != 4 {
		t.Fatalf("expected 4 fixtures, got %d", len(seq))
	}
	if !strings.HasPrefix(seq[0].Content, "Here are") {
		t.Errorf("fixture[0] = %q", seq[0].Content)
	}
	if seq[1].Status != http.StatusServiceUnavailable {
		t.Errorf("fixture[1] status = %d, want 503", seq[1].Status)
	}
	if !strings.HasPrefix(seq[2].Content, "```json") {
		t.Errorf("fixture[2] should be the numeric 10th, got %q", seq[2].Content)
	}
	if seq[3].Content != validSet {
		t.Errorf("fixture[3] should be the base fallback")
	}
}

func TestLoadFixtures_Errors(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		if _, err := loadFixtures(t.TempDir()); err == nil {
			t.Fatal("expected error for empty directory")
		}
	})

	t.Run("bad status", func(t *testing.T) {
		dir := t.TempDir()
		writeFixture(t, dir, "scenarios.status", "200")
		if _, err := loadFixtures(dir); err == nil {
			t.Fatal("expected error for non-error status")
		}
	})

	t.Run("ignores other files", func(t *testing.T) {
		dir := t.TempDir()
		writeFixture(t, dir, "README", "notes")
		writeFixture(t, dir, "scenarios.json", validSet)
		fixtures, err := loadFixtures(dir)
		if err != nil {
			t.Fatalf("loadFixtures: %v", err)
		}
		if len(fixtures) != 1 {
			t.Errorf("expected 1 model, got %d", len(fixtures))
		}
	})
}

func TestFixtureNameRegex(t *testing.T) {
	tests := []struct {
		name      string
		wantModel string
		wantIndex string
	}{
		{"scenarios.json", "scenarios", ""},
		{"scenarios.3.txt", "scenarios", "3"},
		{"gpt-3.5-turbo.1.status", "gpt-3.5-turbo", "1"},
		{"llama3.2.md", "llama3", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fixtureNameRe.FindStringSubmatch(tt.name)
			if m == nil {
				t.Fatalf("no match for %q", tt.name)
			}
			if m[1] != tt.wantModel || m[2] != tt.wantIndex {
				t.Errorf("got model=%q index=%q, want model=%q index=%q", m[1], m[2], tt.wantModel, tt.wantIndex)
			}
		})
	}
	if fixtureNameRe.MatchString("scenarios.yaml") {
		t.Error("yaml should not be a fixture")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	s := newServer(map[string][]fixture{
		"scenarios": {{Content: "first"}, {Status: http.StatusBadGateway}, {Content: "last"}},
	}, nil)

	if got := doCompletion(t, s, "scenarios"); got != "first" {
		t.Errorf("call 1 = %q, want first", got)
	}
	if code := completionStatus(t, s, "scenarios"); code != http.StatusBadGateway {
		t.Errorf("call 2 status = %d, want 502", code)
	}
	for i := 3; i <= 4; i++ {
		if got := doCompletion(t, s, "scenarios"); got != "last" {
			t.Errorf("call %d = %q, want last", i, got)
		}
	}
}

func TestStripMockPrefix(t *testing.T) {
	s := newServer(map[string][]fixture{"scenarios": {{Content: "ok"}}}, nil)
	if got := doCompletion(t, s, "mock-scenarios"); got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if code := completionStatus(t, s, "unknown"); code != http.StatusNotFound {
		t.Errorf("unknown model status = %d, want 404", code)
	}
}

func TestStatsAndRequests(t *testing.T) {
	s := newServer(map[string][]fixture{
		"a": {{Content: "x"}},
		"b": {{Content: "y"}},
	}, nil)
	doCompletion(t, s, "a")
	doCompletion(t, s, "a")
	doCompletion(t, s, "b")

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var stats struct {
		TotalCalls   int64          `json:"total_calls"`
		CallsByModel map[string]int `json:"calls_by_model"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalCalls != 3 || stats.CallsByModel["a"] != 2 || stats.CallsByModel["b"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests?model=a&call=2", nil))
	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}
	if len(captured.RequestsByModel) != 1 || len(captured.RequestsByModel["a"]) != 1 {
		t.Fatalf("unexpected capture: %+v", captured)
	}
	if captured.RequestsByModel["a"][0].CallIndex != 2 {
		t.Errorf("call index = %d, want 2", captured.RequestsByModel["a"][0].CallIndex)
	}
}

// TestEscalationAgainstMockServer drives a full generation run through the
// OpenAI provider: prose, then a fatal HTTP error, then heuristic fallback.
func TestEscalationAgainstMockServer(t *testing.T) {
	s := newServer(map[string][]fixture{
		"scenarios": {{Content: "Sure! Here are some test ideas."}, {Status: http.StatusBadRequest}},
	}, nil)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	res := runAgainst(t, ts.URL)
	if res.Set.Source != scenario.SourceHeuristic {
		t.Errorf("source = %s, want heuristic", res.Set.Source)
	}
	if len(res.Outcome.Attempts) < 2 {
		t.Errorf("expected both external attempts recorded, got %d", len(res.Outcome.Attempts))
	}
}

func TestFencedOutputAgainstMockServer(t *testing.T) {
	s := newServer(map[string][]fixture{
		"scenarios": {{Content: "Here you go:\n```json\n" + validSet + "\n```"}},
	}, nil)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	res := runAgainst(t, ts.URL)
	if res.Set.Source != scenario.SourceExternal {
		t.Errorf("source = %s, want external", res.Set.Source)
	}
	if len(res.Set.Scenarios) == 0 || res.Set.Scenarios[0].Title != "Valid login" {
		t.Errorf("unexpected scenarios: %+v", res.Set.Scenarios)
	}
}

func runAgainst(t *testing.T, url string) *workflow.Result {
	t.Helper()
	client := llm.NewClient([]llm.Endpoint{{
		Name:     "mock",
		Provider: "openai",
		URL:      url + "/v1",
		Model:    "scenarios",
		APIKey:   "test",
	}})
	controller := workflow.NewController(
		workflow.WithExternal(workflow.NewLLMGenerator(client)),
		workflow.WithControllerConfig(workflow.ControllerConfig{
			Retry: validation.RetryConfig{
				MaxAttempts:       2,
				BackoffBase:       time.Millisecond,
				BackoffMultiplier: 2.0,
			},
			AttemptTimeout: 5 * time.Second,
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := workflow.NewRunner(controller).RunStory(ctx, workflow.Request{StoryText: loginStory})
	if err != nil {
		t.Fatalf("RunStory: %v", err)
	}
	return res
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func postCompletion(t *testing.T, s *server, model string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"model":"` + model + `","messages":[{"role":"user","content":"generate"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func completionStatus(t *testing.T, s *server, model string) int {
	t.Helper()
	return postCompletion(t, s, model).Code
}

func doCompletion(t *testing.T, s *server, model string) string {
	t.Helper()
	rec := postCompletion(t, s, model)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	return resp.Choices[0].Message.Content
}
