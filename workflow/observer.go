package workflow

import (
	"time"

	"github.com/c360studio/semtest/scenario"
)

// Observer receives generation events. Implementations must be safe for
// concurrent use; batch runs share one observer.
type Observer interface {
	// AttemptFinished reports the outcome of one external attempt.
	AttemptFinished(outcome string)
	// ValidationIssue reports one validation issue code.
	ValidationIssue(code string)
	// Escalated reports a run that fell back to the heuristic generator
	// after external attempts.
	Escalated()
	// RunFinished reports a completed run.
	RunFinished(source scenario.Source, elapsed time.Duration, set *scenario.Set)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(string) {}
func (nopObserver) ValidationIssue(string) {}
func (nopObserver) Escalated() {}
func (nopObserver) RunFinished(scenario.Source, time.Duration, *scenario.Set) {}
