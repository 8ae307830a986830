// Package main implements a scripted OpenAI-compatible completion server.
// It replays fixture files per model so every escalation path of a
// generation run (valid JSON, fenced JSON, prose, HTTP failures) can be
// exercised offline.
//
// Usage:
//
//	mock-llm -fixtures ./testdata/mock -port 11434
//
// Fixtures are named by model: "scenarios.json", "scenarios.txt" or
// "scenarios.md" map to model "scenarios" (a "mock-" prefix on the requested
// model is ignored). The file content is returned verbatim as the assistant
// message, so malformed fixtures are allowed.
//
// Sequential fixtures: "scenarios.1.txt", "scenarios.2.json", ... are served
// in order for the Nth call; the unnumbered file then repeats. A fixture with
// the ".status" extension holds an HTTP status code and makes that call fail.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// fixture is one scripted reply. A non-zero status fails the call.
type fixture struct {
	Content string
	Status  int
}

// capturedRequest is an incoming prompt kept for assertions.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"`
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]fixture
	logger   *slog.Logger

	mu       sync.Mutex
	total    int64
	calls    map[string]int
	requests map[string][]capturedRequest
}

func newServer(fixtures map[string][]fixture, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		fixtures: fixtures,
		logger:   logger,
		calls:    make(map[string]int),
		requests: make(map[string][]capturedRequest),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	for model, seq := range fixtures {
		logger.Info("Loaded fixtures", "model", model, "count", len(seq))
	}

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock LLM server listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(fixtures, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	seq, ok := s.fixtures[req.Model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if !ok {
		s.logger.Warn("No fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	s.total++
	s.calls[req.Model]++
	callIndex := s.calls[req.Model]
	s.requests[req.Model] = append(s.requests[req.Model], capturedRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
	s.mu.Unlock()

	f := seq[min(callIndex, len(seq))-1]
	s.logger.Info("Completion", "model", req.Model, "call", callIndex, "of", len(seq), "status", f.Status)

	if f.Status != 0 {
		http.Error(w, fmt.Sprintf("scripted failure for call %d", callIndex), f.Status)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: f.Content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     promptLength(req.Messages) / 4,
			CompletionTokens: len(f.Content) / 4,
			TotalTokens:      (promptLength(req.Messages) + len(f.Content)) / 4,
		},
	})
}

func promptLength(messages []chatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": models})
}

// handleStats returns total_calls and calls_by_model.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.calls))
	for model, n := range s.calls {
		byModel[model] = n
	}
	total := s.total
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":    total,
		"calls_by_model": byModel,
	})
}

// handleRequests returns captured prompts, optionally filtered by ?model=
// and ?call= (1-based).
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, _ := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.requests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range reqs {
			if callFilter == 0 || req.CallIndex == callFilter {
				result[model] = append(result[model], req)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"requests_by_model": result})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// fixtureNameRe splits "model.N.ext" and "model.ext".
var fixtureNameRe = regexp.MustCompile(`^(.+?)(?:\.(\d+))?\.(json|txt|md|status)$`)

// loadFixtures reads dir and returns each model's reply sequence: numbered
// fixtures in numeric order, then the unnumbered one.
func loadFixtures(dir string) (map[string][]fixture, error) {
	base := make(map[string]fixture)
	numbered := make(map[string]map[int]fixture)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := fixtureNameRe.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		f := fixture{Content: string(data)}
		if m[3] == "status" {
			code, err := strconv.Atoi(strings.TrimSpace(f.Content))
			if err != nil || code < 400 || code > 599 {
				return fmt.Errorf("%s: status must be an HTTP error code", path)
			}
			f = fixture{Status: code}
		}

		model := m[1]
		if m[2] == "" {
			base[model] = f
			return nil
		}
		index, _ := strconv.Atoi(m[2])
		if numbered[model] == nil {
			numbered[model] = make(map[int]fixture)
		}
		numbered[model][index] = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]fixture)
	for model, byIndex := range numbered {
		indices := make([]int, 0, len(byIndex))
		for idx := range byIndex {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[model] = append(fixtures[model], byIndex[idx])
		}
	}
	for model, f := range base {
		fixtures[model] = append(fixtures[model], f)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
