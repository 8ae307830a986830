package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semtest/heuristic"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/scenario/dedupe"
	"github.com/c360studio/semtest/scenario/priority"
	"github.com/c360studio/semtest/story"
	"github.com/c360studio/semtest/workflow/validation"
)

// DefaultMaxScenarios is the scenario cap used when a request does not set one.
const DefaultMaxScenarios = 20

// Request is one story to generate scenarios for.
type Request struct {
	Title              string   `json:"title,omitempty" yaml:"title,omitempty"`
	StoryText          string   `json:"story_text" yaml:"story_text"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	MaxScenarios       int      `json:"max_scenarios,omitempty" yaml:"max_scenarios,omitempty"`
	DryRun             bool     `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// Result is a completed generation.
type Result struct {
	RunID    string
	Story    *story.UserStory
	Set      *scenario.Set
	Warnings []story.Warning
	Outcome  *Outcome
	Elapsed  time.Duration
}

// RunRecord is the persisted summary of a completed run.
type RunRecord struct {
	ID         string              `json:"id"`
	StoryTitle string              `json:"story_title"`
	StoryText  string              `json:"story_text"`
	Source     scenario.Source     `json:"source"`
	DryRun     bool                `json:"dry_run"`
	Attempts   []GenerationAttempt `json:"attempts"`
	Trail      []State             `json:"trail"`
	Set        *scenario.Set       `json:"set"`
	Warnings   []string            `json:"warnings,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	Elapsed    time.Duration       `json:"elapsed"`
}

// RunRecorder persists completed runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, record *RunRecord) error
}

// Runner is the entry point: parse, generate, dedupe, prioritize, truncate.
type Runner struct {
	controller *Controller
	heuristic  *heuristic.Generator
	priority   *priority.Engine
	validator  *validation.Validator
	recorder   RunRecorder
	observer   Observer
	logger     *slog.Logger
	defaultMax int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPriorityEngine sets the engine used to prioritize and truncate.
func WithPriorityEngine(e *priority.Engine) RunnerOption {
	return func(r *Runner) {
		r.priority = e
	}
}

// WithRunRecorder records every completed run.
func WithRunRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithRunObserver reports completed runs.
func WithRunObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithDefaultMaxScenarios sets the cap used when a request leaves it at zero.
func WithDefaultMaxScenarios(n int) RunnerOption {
	return func(r *Runner) {
		r.defaultMax = n
	}
}

// NewRunner creates a runner around a controller. A nil controller runs
// heuristic-only.
func NewRunner(controller *Controller, opts ...RunnerOption) *Runner {
	if controller == nil {
		controller = NewController()
	}
	r := &Runner{
		controller: controller,
		heuristic:  controller.heuristic,
		validator:  validation.NewValidator(),
		observer:   nopObserver{},
		logger:     slog.Default(),
		defaultMax: DefaultMaxScenarios,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.priority == nil {
		r.priority = priority.NewDefaultEngine()
	}
	return r
}

// RunGeneration generates scenarios for free story text.
func (r *Runner) RunGeneration(ctx context.Context, storyText string, maxScenarios int, dryRun bool) (*scenario.Set, []story.Warning, error) {
	res, err := r.RunStory(ctx, Request{StoryText: storyText, MaxScenarios: maxScenarios, DryRun: dryRun})
	if err != nil {
		return nil, nil, err
	}
	return res.Set, res.Warnings, nil
}

// RunStory generates scenarios for one request. It fails only on a
// story.ParseError or a cancelled context.
func (r *Runner) RunStory(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	var parseOpts []story.Option
	if req.Title != "" {
		parseOpts = append(parseOpts, story.WithTitle(req.Title))
	}
	if len(req.AcceptanceCriteria) > 0 {
		parseOpts = append(parseOpts, story.WithCriteria(req.AcceptanceCriteria...))
	}
	s, warnings, err := story.Parse(req.StoryText, parseOpts...)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := r.logger.With("run_id", runID)
	for _, w := range warnings {
		logger.Warn("Story warning", "code", w.Code, "message", w.Message)
	}

	limit := req.MaxScenarios
	if limit <= 0 {
		limit = r.defaultMax
	}

	outcome, err := r.controller.Run(ctx, s, RunOptions{RunID: runID, MaxScenarios: limit, DryRun: req.DryRun})
	if err != nil {
		return nil, fmt.Errorf("generate scenarios: %w", err)
	}

	scenarios := dedupe.Dedupe(outcome.Set.Scenarios)
	scenarios = r.priority.Prioritize(scenarios)
	scenarios = r.heuristic.Truncate(scenarios, limit)

	set := &scenario.Set{
		Metadata:  s.Metadata(),
		Scenarios: scenarios,
		Source:    outcome.Source,
		Warnings:  story.WarningStrings(warnings),
	}
	if check := r.validator.ValidateSet(set); !check.Valid {
		logger.Error("Final scenario set failed validation", "issues", check.Errors())
	}

	elapsed := time.Since(start)
	logger.Info("Generated scenarios",
		"title", s.Title,
		"source", outcome.Source,
		"scenarios", len(set.Scenarios),
		"attempts", len(outcome.Attempts),
		"elapsed", elapsed)

	r.observer.RunFinished(outcome.Source, elapsed, set)

	if r.recorder != nil {
		rec := &RunRecord{
			ID:         runID,
			StoryTitle: s.Title,
			StoryText:  req.StoryText,
			Source:     outcome.Source,
			DryRun:     req.DryRun,
			Attempts:   outcome.Attempts,
			Trail:      outcome.Trail,
			Set:        set,
			Warnings:   set.Warnings,
			StartedAt:  start,
			Elapsed:    elapsed,
		}
		if err := r.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("Failed to record run", "error", err)
		}
	}

	return &Result{
		RunID:    runID,
		Story:    s,
		Set:      set,
		Warnings: warnings,
		Outcome:  outcome,
		Elapsed:  elapsed,
	}, nil
}
