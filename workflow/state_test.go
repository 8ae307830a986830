package workflow

import (
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		event   Event
		want    State
		wantErr bool
	}{
		{StateStart, EventInvoke, StateExternalAttempt, false},
		{StateStart, EventDryRun, StateEscalated, false},
		{StateExternalAttempt, EventOutput, StateValidating, false},
		{StateExternalAttempt, EventRetry, StateExternalAttempt, false},
		{StateExternalAttempt, EventBudgetExhausted, StateEscalated, false},
		{StateValidating, EventValid, StateDone, false},
		{StateValidating, EventInvalidNearJSON, StateCleaning, false},
		{StateValidating, EventRetry, StateExternalAttempt, false},
		{StateValidating, EventBudgetExhausted, StateEscalated, false},
		{StateCleaning, EventCleanOK, StateDone, false},
		{StateCleaning, EventRetry, StateExternalAttempt, false},
		{StateCleaning, EventBudgetExhausted, StateEscalated, false},
		{StateEscalated, EventFallbackDone, StateDone, false},

		// Cleaning happens at most once and never loops back into itself.
		{StateCleaning, EventInvalidNearJSON, StateCleaning, true},
		{StateStart, EventValid, StateStart, true},
		{StateEscalated, EventInvoke, StateEscalated, true},
		{StateDone, EventInvoke, StateDone, true},
		{StateDone, EventFallbackDone, StateDone, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Next() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStart, StateExternalAttempt, true},
		{StateStart, StateEscalated, true},
		{StateStart, StateDone, false},
		{StateValidating, StateCleaning, true},
		{StateCleaning, StateValidating, false},
		{StateEscalated, StateDone, true},
		{StateEscalated, StateExternalAttempt, false},
		{StateDone, StateStart, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	// Every non-terminal state has a way out, and every path can reach Done.
	reachesDone := map[State]bool{StateDone: true}
	for changed := true; changed; {
		changed = false
		for k, to := range transitions {
			if reachesDone[to] && !reachesDone[k.from] {
				reachesDone[k.from] = true
				changed = true
			}
		}
	}

	for _, s := range []State{StateStart, StateExternalAttempt, StateValidating, StateCleaning, StateEscalated, StateDone} {
		if !s.IsValid() {
			t.Errorf("%s should be valid", s)
		}
		if !reachesDone[s] {
			t.Errorf("%s cannot reach done", s)
		}
		if s.IsTerminal() != (s == StateDone) {
			t.Errorf("%s IsTerminal() = %v", s, s.IsTerminal())
		}
	}

	for k, to := range transitions {
		if k.from == StateDone {
			t.Errorf("done has outgoing transition to %s", to)
		}
		if !to.IsValid() {
			t.Errorf("transition %s/%s targets unknown state %q", k.from, k.event, to)
		}
	}

	if State("paused").IsValid() {
		t.Error("unknown state should be invalid")
	}
}
