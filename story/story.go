// Package story extracts a structured user story from free text.
//
// Extraction is shallow pattern matching: a title line, "As a ..." actor
// clauses, an "I want ..." goal, an optional "so that ..." benefit, and the
// numbered or bulleted lines that follow an "Acceptance Criteria" header.
// Missing actors or goals never abort parsing; they are reported as warnings.
package story

import (
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/semtest/scenario"
)

// MinStoryLength is the shortest story text accepted by Parse.
const MinStoryLength = 10

// ErrNoStorySignal indicates that neither a title nor an "As a / I want"
// pattern could be found.
var ErrNoStorySignal = errors.New("no story signal found")

// ParseError is returned when the story text cannot produce a UserStory.
type ParseError struct {
	Reason string
	err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse story: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.err
}

func newParseError(reason string) error {
	return &ParseError{Reason: reason, err: ErrNoStorySignal}
}

// IsParseError reports whether err is (or wraps) a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// UserStory is the structured form of a story.
type UserStory struct {
	Title              string   `json:"title"`
	Actors             []string `json:"actors"`
	Goal               string   `json:"goal"`
	Benefit            string   `json:"benefit,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`

	// Text is the raw story text, kept for vocabulary scans.
	Text string `json:"-"`
}

// CriterionID returns the identifier of the 1-based criterion index.
func (s *UserStory) CriterionID(index int) string {
	return scenario.CriterionRef(index)
}

// Metadata builds the scenario set metadata for this story.
func (s *UserStory) Metadata() scenario.Metadata {
	return scenario.Metadata{
		StoryTitle:              s.Title,
		Actors:                  append([]string{}, s.Actors...),
		PrimaryGoal:             s.Goal,
		AcceptanceCriteriaCount: len(s.AcceptanceCriteria),
	}
}

// PrimaryActor returns the first detected actor or "user".
func (s *UserStory) PrimaryActor() string {
	if len(s.Actors) > 0 {
		return s.Actors[0]
	}
	return "user"
}

// WarningCode identifies a non-fatal parsing condition.
type WarningCode string

const (
	WarnEmptyCriteria    WarningCode = "empty_acceptance_criteria"
	WarnActorNotDetected WarningCode = "actor_not_detected"
	WarnGoalNotDetected  WarningCode = "goal_not_detected"
)

// Warning is a non-fatal condition surfaced alongside a parsed story.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

// WarningStrings renders warnings for inclusion in a scenario set.
func WarningStrings(ws []Warning) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.String()
	}
	return out
}

// collectWarnings inspects a parsed story for missing optional fields.
func collectWarnings(s *UserStory) []Warning {
	var warnings []Warning
	if len(s.Actors) == 0 {
		warnings = append(warnings, Warning{
			Code:    WarnActorNotDetected,
			Message: "no \"As a ...\" actor clause found",
		})
	}
	if strings.TrimSpace(s.Goal) == "" {
		warnings = append(warnings, Warning{
			Code:    WarnGoalNotDetected,
			Message: "no \"I want ...\" goal clause found",
		})
	}
	if len(s.AcceptanceCriteria) == 0 {
		warnings = append(warnings, Warning{
			Code:    WarnEmptyCriteria,
			Message: "story has no acceptance criteria",
		})
	}
	return warnings
}
