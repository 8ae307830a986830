// Package api serves scenario generation over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/c360studio/semtest/llm"
	"github.com/c360studio/semtest/output"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/scenario/priority"
	"github.com/c360studio/semtest/storage"
	"github.com/c360studio/semtest/story"
	"github.com/c360studio/semtest/workflow"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// History is the run store as seen by the API.
type History interface {
	ListRuns(ctx context.Context, opts storage.ListOptions) ([]storage.RunSummary, error)
	GetRun(ctx context.Context, id string) (*workflow.RunRecord, error)
}

// Server exposes a Runner over HTTP.
type Server struct {
	runner      *workflow.Runner
	history     History
	metrics     http.Handler
	endpoints   func() map[string]llm.EndpointHealth
	logger      *slog.Logger
	concurrency int
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables the /v1/runs endpoints.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithEndpointHealth reports LLM circuit state on /healthz.
func WithEndpointHealth(snapshot func() map[string]llm.EndpointHealth) Option {
	return func(s *Server) { s.endpoints = snapshot }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBatchConcurrency bounds batch requests that do not set their own.
func WithBatchConcurrency(n int) Option {
	return func(s *Server) { s.concurrency = n }
}

// NewServer creates a server around runner.
func NewServer(runner *workflow.Runner, opts ...Option) *Server {
	s := &Server{
		runner:      runner,
		logger:      slog.Default(),
		concurrency: workflow.DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scenarios", s.handleGenerate)
	mux.HandleFunc("POST /v1/scenarios/batch", s.handleBatch)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, readTimeout, writeTimeout)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	return nil
}

// GenerateResponse is the body of POST /v1/scenarios.
type GenerateResponse struct {
	RunID     string          `json:"run_id"`
	Set       *scenario.Set   `json:"set"`
	Warnings  []story.Warning `json:"warnings,omitempty"`
	Source    scenario.Source `json:"source"`
	Attempts  int             `json:"attempts"`
	ElapsedMs int64           `json:"elapsed_ms"`
}

// BatchRequest is the body of POST /v1/scenarios/batch.
type BatchRequest struct {
	Stories     []workflow.Request `json:"stories"`
	Concurrency int                `json:"concurrency,omitempty"`
}

// BatchItem is one element of the batch response.
type BatchItem struct {
	Index  int               `json:"index"`
	Result *GenerateResponse `json:"result,omitempty"`
	Error  *ErrorResponse    `json:"error,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newGenerateResponse(res *workflow.Result) *GenerateResponse {
	return &GenerateResponse{
		RunID:     res.RunID,
		Set:       res.Set,
		Warnings:  res.Warnings,
		Source:    res.Set.Source,
		Attempts:  len(res.Outcome.Attempts),
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
}

// handleGenerate handles POST /v1/scenarios. ?format=markdown or
// ?format=console returns the rendered set instead of JSON, and
// ?sort=priority orders scenarios most important first.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	format := output.FormatJSON
	if v := r.URL.Query().Get("format"); v != "" {
		f, err := output.ParseFormat(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_format", err.Error())
			return
		}
		format = f
	}
	var byPriority bool
	switch v := r.URL.Query().Get("sort"); v {
	case "", "emission":
	case "priority":
		byPriority = true
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid_sort",
			fmt.Sprintf("unknown sort %q (want emission or priority)", v))
		return
	}

	var req workflow.Request
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.runner.RunStory(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if byPriority {
		res.Set.Scenarios = priority.SortByPriority(res.Set.Scenarios)
	}

	if format != output.FormatJSON {
		ct := "text/plain; charset=utf-8"
		if format == output.FormatMarkdown {
			ct = "text/markdown; charset=utf-8"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("X-Run-ID", res.RunID)
		w.WriteHeader(http.StatusOK)
		if err := output.Render(w, format, res.Set); err != nil {
			s.logger.Warn("Failed to render response", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, newGenerateResponse(res))
}

// handleBatch handles POST /v1/scenarios/batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Stories) == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "stories must not be empty")
		return
	}
	concurrency := req.Concurrency
	if concurrency <= 0 || concurrency > s.concurrency {
		concurrency = s.concurrency
	}

	results := s.runner.RunBatch(r.Context(), req.Stories, concurrency)
	if err := r.Context().Err(); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cancelled", err.Error())
		return
	}

	items := make([]BatchItem, len(results))
	for i, res := range results {
		items[i] = BatchItem{Index: res.Index}
		if res.Err != nil {
			code, _ := classify(res.Err)
			items[i].Error = &ErrorResponse{Error: code, Message: res.Err.Error()}
			continue
		}
		items[i].Result = newGenerateResponse(res.Result)
	}
	writeJSON(w, http.StatusOK, items)
}

// HealthResponse is the body of GET /healthz. The server stays "ok" while
// endpoint circuits are open because the heuristic generator still answers.
type HealthResponse struct {
	Status    string                        `json:"status"`
	Endpoints map[string]llm.EndpointHealth `json:"endpoints,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.endpoints != nil {
		resp.Endpoints = s.endpoints()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListRuns handles GET /v1/runs?limit=N&source=external|heuristic.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONError(w, http.StatusNotImplemented, "history_disabled", "run history is not configured")
		return
	}

	opts := storage.ListOptions{Source: scenario.Source(r.URL.Query().Get("source"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list runs", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to list runs")
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /v1/runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSONError(w, http.StatusNotImplemented, "history_disabled", "run history is not configured")
		return
	}

	run, err := s.history.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		s.logger.Error("Failed to load run", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Generation failed", "error", err)
	}
	writeJSONError(w, status, code, err.Error())
}

// classify maps a runner error to an error code and HTTP status.
func classify(err error) (string, int) {
	var pe *story.ParseError
	switch {
	case errors.As(err, &pe):
		return "invalid_story", http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled", http.StatusServiceUnavailable
	default:
		return "internal", http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("decode body: %v", err))
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: errorCode, Message: message})
}
