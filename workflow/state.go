package workflow

import "fmt"

// State is a step of the generation state machine.
type State string

const (
	// StateStart is the initial state of every run.
	StateStart State = "start"
	// StateExternalAttempt invokes the external generator.
	StateExternalAttempt State = "external_attempt"
	// StateValidating checks the raw external output against the schema.
	StateValidating State = "validating"
	// StateCleaning strips non-JSON wrapping from near-valid output and re-validates.
	StateCleaning State = "cleaning"
	// StateEscalated discards external output and runs the heuristic generator.
	StateEscalated State = "escalated"
	// StateDone is the only terminal state. It always holds a schema-valid set.
	StateDone State = "done"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known controller state.
func (s State) IsValid() bool {
	switch s {
	case StateStart, StateExternalAttempt, StateValidating, StateCleaning, StateEscalated, StateDone:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateDone
}

// Event drives a transition out of the current state.
type Event string

const (
	// EventDryRun skips the external generator.
	EventDryRun Event = "dry_run"
	// EventInvoke starts the first external attempt.
	EventInvoke Event = "invoke"
	// EventOutput hands raw external output to the validator.
	EventOutput Event = "output"
	// EventValid accepts the external output.
	EventValid Event = "valid"
	// EventInvalidNearJSON requests the single cleaning pass.
	EventInvalidNearJSON Event = "invalid_near_json"
	// EventCleanOK accepts the cleaned output.
	EventCleanOK Event = "clean_ok"
	// EventRetry spends another external attempt after a failure.
	EventRetry Event = "retry"
	// EventBudgetExhausted escalates after the last external attempt failed.
	EventBudgetExhausted Event = "budget_exhausted"
	// EventFallbackDone completes a run with the heuristic set.
	EventFallbackDone Event = "fallback_done"
)

type transitionKey struct {
	from  State
	event Event
}

// transitions is the complete transition table. Any (state, event) pair not
// listed is rejected.
var transitions = map[transitionKey]State{
	{StateStart, EventInvoke}: StateExternalAttempt,
	{StateStart, EventDryRun}: StateEscalated,

	{StateExternalAttempt, EventOutput}:          StateValidating,
	{StateExternalAttempt, EventRetry}:           StateExternalAttempt,
	{StateExternalAttempt, EventBudgetExhausted}: StateEscalated,

	{StateValidating, EventValid}:           StateDone,
	{StateValidating, EventInvalidNearJSON}: StateCleaning,
	{StateValidating, EventRetry}:           StateExternalAttempt,
	{StateValidating, EventBudgetExhausted}: StateEscalated,

	{StateCleaning, EventCleanOK}:         StateDone,
	{StateCleaning, EventRetry}:           StateExternalAttempt,
	{StateCleaning, EventBudgetExhausted}: StateEscalated,

	{StateEscalated, EventFallbackDone}: StateDone,
}

// Next returns the state reached from s on ev.
func Next(s State, ev Event) (State, error) {
	to, ok := transitions[transitionKey{s, ev}]
	if !ok {
		return s, fmt.Errorf("invalid transition: %s on %s", s, ev)
	}
	return to, nil
}

// CanTransition returns true if some event moves from to target.
func CanTransition(from, target State) bool {
	for k, to := range transitions {
		if k.from == from && to == target {
			return true
		}
	}
	return false
}
