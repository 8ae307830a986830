package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semtest/heuristic"
	"github.com/c360studio/semtest/llm"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/story"
	"github.com/c360studio/semtest/workflow/prompts"
	"github.com/c360studio/semtest/workflow/validation"
)

// Attempt outcomes reported to the Observer.
const (
	OutcomeValid          = "valid"
	OutcomeCleaned        = "cleaned"
	OutcomeInvalid        = "invalid"
	OutcomeTimeout        = "timeout"
	OutcomeTransportError = "transport_error"
)

// GenerationAttempt records one generation attempt within a run.
type GenerationAttempt struct {
	Source           scenario.Source `json:"source"`
	AttemptNumber    int             `json:"attempt_number"`
	RawOutput        string          `json:"raw_output,omitempty"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	Cleaned          bool            `json:"cleaned,omitempty"`
	Err              error           `json:"-"`
	Error            string          `json:"error,omitempty"`
	Duration         time.Duration   `json:"duration"`
}

// Outcome is the result of a controller run.
type Outcome struct {
	RunID    string
	Set      *scenario.Set
	Source   scenario.Source
	Attempts []GenerationAttempt
	Trail    []State
}

// Escalated reports whether the heuristic generator produced the set.
func (o *Outcome) Escalated() bool {
	return o.Source == scenario.SourceHeuristic
}

// RunOptions are the per-run inputs of the controller.
type RunOptions struct {
	RunID        string
	MaxScenarios int
	DryRun       bool
}

// ControllerConfig configures the escalation policy.
type ControllerConfig struct {
	Retry validation.RetryConfig

	// AttemptTimeout bounds each external call. Zero means no timeout
	// beyond the caller's context.
	AttemptTimeout time.Duration
}

// DefaultControllerConfig returns two external attempts, 500ms initial
// backoff doubling per attempt, and a 60s per-attempt timeout.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Retry:          validation.DefaultRetryConfig(),
		AttemptTimeout: 60 * time.Second,
	}
}

// Controller runs the generation state machine. It holds no per-run state
// and is safe for concurrent use.
type Controller struct {
	external  Generator
	heuristic *heuristic.Generator
	validator *validation.Validator
	config    ControllerConfig
	logger    *slog.Logger
	observer  Observer
	sleep     func(ctx context.Context, d time.Duration) error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithExternal sets the external generator. Without one every run escalates.
func WithExternal(g Generator) ControllerOption {
	return func(c *Controller) {
		c.external = g
	}
}

// WithHeuristic replaces the default heuristic generator.
func WithHeuristic(g *heuristic.Generator) ControllerOption {
	return func(c *Controller) {
		c.heuristic = g
	}
}

// WithControllerConfig sets the retry budget and attempt timeout.
func WithControllerConfig(cfg ControllerConfig) ControllerOption {
	return func(c *Controller) {
		c.config = cfg
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithObserver reports attempts and runs, e.g. to Prometheus.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		c.observer = o
	}
}

// NewController creates a controller.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		validator: validation.NewValidator(),
		config:    DefaultControllerConfig(),
		logger:    slog.Default(),
		observer:  nopObserver{},
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.heuristic == nil {
		c.heuristic = heuristic.NewDefault()
	}
	return c
}

// run is the per-invocation state of the machine.
type run struct {
	story    *story.UserStory
	opts     RunOptions
	budget   *validation.Budget
	state    State
	trail    []State
	attempts []GenerationAttempt
	raw      string
	feedback string
	backoff  time.Duration
	cleaned  bool
	set      *scenario.Set
	source   scenario.Source
}

func (r *run) fire(ev Event) error {
	next, err := Next(r.state, ev)
	if err != nil {
		return err
	}
	r.state = next
	r.trail = append(r.trail, next)
	return nil
}

// afterFailure records a failed attempt, then spends the next one or escalates.
func (r *run) afterFailure(reason string, result *validation.Result) Event {
	decision := r.budget.ShouldRetry(reason, result)
	r.feedback = decision.Feedback
	if !decision.ShouldRetry {
		return EventBudgetExhausted
	}
	r.backoff = decision.Backoff
	return EventRetry
}

func (r *run) current() *GenerationAttempt {
	return &r.attempts[len(r.attempts)-1]
}

// Run drives one story to StateDone. The only error it returns is the
// context's, when ctx is cancelled before the run completes.
func (c *Controller) Run(ctx context.Context, s *story.UserStory, opts RunOptions) (*Outcome, error) {
	r := &run{
		story:  s,
		opts:   opts,
		budget: validation.NewBudget(c.config.Retry),
		state:  StateStart,
		trail:  []State{StateStart},
	}
	logger := c.logger.With("run_id", opts.RunID)

	for !r.state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var ev Event
		var err error
		switch r.state {
		case StateStart:
			ev = c.start(r)
		case StateExternalAttempt:
			ev, err = c.attempt(ctx, r, logger)
		case StateValidating:
			ev = c.validate(r, logger)
		case StateCleaning:
			ev = c.clean(r, logger)
		case StateEscalated:
			ev = c.escalate(r, logger)
		default:
			err = fmt.Errorf("unknown state %q", r.state)
		}
		if err != nil {
			return nil, err
		}
		if err := r.fire(ev); err != nil {
			return nil, err
		}
		logger.Debug("Generation transition", "event", ev, "state", r.state)
	}

	return &Outcome{
		RunID:    opts.RunID,
		Set:      r.set,
		Source:   r.source,
		Attempts: r.attempts,
		Trail:    r.trail,
	}, nil
}

func (c *Controller) start(r *run) Event {
	if r.opts.DryRun || c.external == nil {
		return EventDryRun
	}
	return EventInvoke
}

func (c *Controller) attempt(ctx context.Context, r *run, logger *slog.Logger) (Event, error) {
	if r.backoff > 0 {
		logger.Debug("Backing off before external attempt", "wait", r.backoff)
		if err := c.sleep(ctx, r.backoff); err != nil {
			return "", err
		}
		r.backoff = 0
	}

	n := r.budget.RecordAttempt()
	prompt := c.buildPrompt(r, n)

	attemptCtx := llm.WithTraceContext(ctx, llm.TraceContext{RunID: r.opts.RunID, Attempt: n})
	cancel := func() {}
	if c.config.AttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(attemptCtx, c.config.AttemptTimeout)
	}
	start := time.Now()
	raw, err := c.external.Generate(attemptCtx, prompt)
	cancel()

	r.attempts = append(r.attempts, GenerationAttempt{
		Source:        scenario.SourceExternal,
		AttemptNumber: n,
		RawOutput:     raw,
		Duration:      time.Since(start),
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		att := r.current()
		att.Err = err
		att.Error = err.Error()

		outcome := OutcomeTransportError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		c.observer.AttemptFinished(outcome)

		if llm.IsFatal(err) {
			r.budget.Exhaust()
		}
		logger.Warn("External attempt failed",
			"attempt", n, "max_attempts", r.budget.MaxAttempts(), "outcome", outcome, "error", err)
		return r.afterFailure(err.Error(), nil), nil
	}

	r.raw = raw
	return EventOutput, nil
}

func (c *Controller) validate(r *run, logger *slog.Logger) Event {
	result := c.check(r, r.raw)
	att := r.current()
	att.ValidationErrors = result.Errors()

	if result.Valid {
		c.accept(r, result.Set)
		c.observer.AttemptFinished(OutcomeValid)
		return EventValid
	}

	c.observeIssues(result)
	if result.NearValid() && !r.cleaned {
		logger.Debug("External output is near-valid, cleaning", "attempt", att.AttemptNumber)
		return EventInvalidNearJSON
	}

	c.observer.AttemptFinished(OutcomeInvalid)
	logger.Warn("External output failed validation",
		"attempt", att.AttemptNumber, "issues", len(result.Issues))
	return r.afterFailure("validation failed", result)
}

func (c *Controller) clean(r *run, logger *slog.Logger) Event {
	r.cleaned = true
	att := r.current()
	att.Cleaned = true

	result := c.check(r, llm.ExtractJSONValue(r.raw))
	att.ValidationErrors = result.Errors()

	if result.Valid {
		c.accept(r, result.Set)
		c.observer.AttemptFinished(OutcomeCleaned)
		return EventCleanOK
	}

	c.observeIssues(result)
	c.observer.AttemptFinished(OutcomeInvalid)
	logger.Warn("Cleaned output failed validation",
		"attempt", att.AttemptNumber, "issues", len(result.Issues))
	return r.afterFailure("validation failed after cleaning", result)
}

func (c *Controller) escalate(r *run, logger *slog.Logger) Event {
	start := time.Now()
	set := c.heuristic.Generate(r.story, r.opts.MaxScenarios)

	att := GenerationAttempt{
		Source:        scenario.SourceHeuristic,
		AttemptNumber: len(r.attempts) + 1,
		Duration:      time.Since(start),
	}
	if result := c.validator.ValidateSet(set); !result.Valid {
		// The heuristic set is still returned; nothing better exists.
		att.ValidationErrors = result.Errors()
		logger.Error("Heuristic set failed validation", "issues", result.Errors())
	}
	r.attempts = append(r.attempts, att)

	if r.opts.DryRun || c.external == nil {
		logger.Debug("Heuristic generation", "scenarios", len(set.Scenarios))
	} else {
		c.observer.Escalated()
		logger.Info("Escalated to heuristic generator",
			"external_attempts", r.budget.Attempts(), "last_error", r.budget.State().LastError,
			"scenarios", len(set.Scenarios))
	}

	r.set = set
	r.source = scenario.SourceHeuristic
	return EventFallbackDone
}

// check validates candidate text and cross-checks the scenario count
// against the story: fewer scenarios than acceptance criteria (at least one,
// capped by the scenario limit) is implausible.
func (c *Controller) check(r *run, raw string) *validation.Result {
	result := c.validator.Validate(raw)
	if !result.Valid {
		return result
	}

	want := len(r.story.AcceptanceCriteria)
	if want < 1 {
		want = 1
	}
	if r.opts.MaxScenarios > 0 && want > r.opts.MaxScenarios {
		want = r.opts.MaxScenarios
	}
	if got := len(result.Set.Scenarios); got < want {
		result.Fail(validation.CodeImplausibleCount,
			fmt.Sprintf("%d scenarios for %d acceptance criteria; expected at least %d", got, len(r.story.AcceptanceCriteria), want))
	}
	return result
}

// accept stores a validated external set. Metadata always comes from the
// parsed story, never from the model.
func (c *Controller) accept(r *run, set *scenario.Set) {
	set.Metadata = r.story.Metadata()
	set.Source = scenario.SourceExternal
	r.set = set
	r.source = scenario.SourceExternal
}

func (c *Controller) observeIssues(result *validation.Result) {
	for _, issue := range result.Issues {
		c.observer.ValidationIssue(string(issue.Code))
	}
}

func (c *Controller) buildPrompt(r *run, attempt int) Prompt {
	s := r.story
	return Prompt{
		System: prompts.SystemPrompt,
		User: prompts.ScenarioPrompt(prompts.ScenarioParams{
			Title:        s.Title,
			Story:        s.Text,
			Actors:       s.Actors,
			Goal:         s.Goal,
			Benefit:      s.Benefit,
			Criteria:     s.AcceptanceCriteria,
			MaxScenarios: r.opts.MaxScenarios,
			Feedback:     r.feedback,
		}),
		Attempt: attempt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
