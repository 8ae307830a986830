package story

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Pre-compiled patterns for story extraction.
var (
	titleLineRe = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?title(?:\*\*)?\s*:\s*(?:\*\*)?\s*(.+?)\s*$`)
	headingRe   = regexp.MustCompile(`^\s*#{1,6}\s+\S`)
	actorRe     = regexp.MustCompile(`(?i)(?:^\s*|[.;!?]\s+|:\s*|\s[-\x{2013}\x{2014}]\s+|\band\s+)(?:[-*]\s+)?(?:\*\*)?as\s+an?\s+(.+?)(?:\s*,|\s+i\s+want\b|\s*$)`)
	goalRe      = regexp.MustCompile(`(?i)\bi\s+want\s+(?:to\s+)?(.+?)(?:\s*,?\s+so\s+that\b.*)?\s*$`)
	benefitRe   = regexp.MustCompile(`(?i)\bso\s+that\s+(.+?)\s*$`)
	criteriaRe  = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:\*\*)?acceptance\s+criteria(?:\*\*)?\s*:?\s*(?:\*\*)?\s*$`)
	itemRe      = regexp.MustCompile(`^\s*(?:[-*+\x{2022}]|\d+[.)])\s+(?:\[[ xX]\]\s+)?(.+?)\s*$`)
	sectionRe   = regexp.MustCompile(`^\s*(?:#+\s+\S.*|[^-*+\x{2022}\d\s][^:]{0,60}:\s*)$`)
)

// maxDerivedTitle caps titles derived from the goal clause.
const maxDerivedTitle = 60

// Option customizes parsing.
type Option func(*parseOptions)

type parseOptions struct {
	title    string
	criteria []string
}

// WithTitle overrides the extracted title. Batch records use it when they
// carry an explicit title field.
func WithTitle(title string) Option {
	return func(o *parseOptions) {
		o.title = strings.TrimSpace(title)
	}
}

// WithCriteria appends caller-supplied acceptance criteria after the ones
// found in the text. Duplicates (case-insensitive) are skipped.
func WithCriteria(criteria ...string) Option {
	return func(o *parseOptions) {
		o.criteria = append(o.criteria, criteria...)
	}
}

// Parse extracts a UserStory from raw text. It returns a *ParseError when the
// text is too short or carries no title, heading, actor/goal clause, or
// acceptance criteria at all. Missing actors, goals, and criteria are
// reported as warnings.
func Parse(raw string, opts ...Option) (*UserStory, []Warning, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	if len(strings.TrimSpace(text)) < MinStoryLength {
		return nil, nil, newParseError("story text is empty or shorter than 10 characters")
	}
	lines := strings.Split(text, "\n")

	s := &UserStory{Text: text}
	s.Actors = extractActors(lines)
	s.Goal, s.Benefit = extractGoal(lines)

	criteria, hasHeader := extractCriteria(lines)
	s.AcceptanceCriteria = mergeCriteria(criteria, o.criteria)

	explicitTitle := o.title
	if explicitTitle == "" {
		explicitTitle = extractExplicitTitle(lines)
	}

	hasClause := len(s.Actors) > 0 || s.Goal != ""
	hasHeading := firstHeading(lines) != ""
	if explicitTitle == "" && !hasClause && !hasHeading && !hasHeader && len(s.AcceptanceCriteria) == 0 {
		return nil, nil, newParseError("no title line and no \"As a / I want\" pattern")
	}

	s.Title = explicitTitle
	if s.Title == "" {
		s.Title = fallbackTitle(lines, s.Goal)
	}

	return s, collectWarnings(s), nil
}

// extractExplicitTitle returns the value of the first "Title:" line.
func extractExplicitTitle(lines []string) string {
	for _, line := range lines {
		if m := titleLineRe.FindStringSubmatch(line); m != nil {
			return cleanPhrase(m[1])
		}
	}
	return ""
}

// firstHeading returns the first markdown heading text, if any.
func firstHeading(lines []string) string {
	for _, line := range lines {
		if headingRe.MatchString(line) && !criteriaRe.MatchString(line) {
			return cleanPhrase(strings.TrimLeft(strings.TrimSpace(line), "#"))
		}
	}
	return ""
}

// fallbackTitle uses the first non-empty line. When that line is the
// "As a ... I want ..." sentence itself, the title is derived from the goal.
func fallbackTitle(lines []string, goal string) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || criteriaRe.MatchString(trimmed) {
			continue
		}
		candidate := cleanPhrase(strings.TrimLeft(trimmed, "#"))
		if actorRe.MatchString(trimmed) || goalRe.MatchString(trimmed) {
			if goal != "" {
				return truncateRunes(titleCase(goal), maxDerivedTitle)
			}
			return truncateRunes(candidate, maxDerivedTitle)
		}
		return candidate
	}
	return truncateRunes(titleCase(goal), maxDerivedTitle)
}

// extractActors collects every "As a/As an" mention, first-seen order,
// deduplicated case-insensitively.
func extractActors(lines []string) []string {
	var actors []string
	seen := make(map[string]bool)
	for _, line := range lines {
		for _, m := range actorRe.FindAllStringSubmatch(line, -1) {
			actor := cleanPhrase(m[1])
			key := strings.ToLower(actor)
			if actor == "" || seen[key] {
				continue
			}
			seen[key] = true
			actors = append(actors, actor)
		}
	}
	return actors
}

// extractGoal returns the first "I want (to) ..." clause and its "so that" benefit.
func extractGoal(lines []string) (goal, benefit string) {
	for _, line := range lines {
		m := goalRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		goal = cleanPhrase(m[1])
		if b := benefitRe.FindStringSubmatch(line); b != nil {
			benefit = cleanPhrase(b[1])
		}
		if goal != "" {
			return goal, benefit
		}
	}
	return "", ""
}

// extractCriteria collects the items under the first acceptance criteria
// header. Collection stops at the next section-looking line.
func extractCriteria(lines []string) ([]string, bool) {
	start := -1
	for i, line := range lines {
		if criteriaRe.MatchString(line) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, false
	}

	var criteria []string
	for _, line := range lines[start:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := itemRe.FindStringSubmatch(line); m != nil {
			if c := strings.TrimSpace(m[1]); c != "" {
				criteria = append(criteria, c)
			}
			continue
		}
		if sectionRe.MatchString(line) {
			break
		}
	}
	return criteria, true
}

// mergeCriteria appends extra criteria, skipping blanks and case-insensitive duplicates.
func mergeCriteria(parsed, extra []string) []string {
	if len(extra) == 0 {
		return parsed
	}
	seen := make(map[string]bool, len(parsed))
	for _, c := range parsed {
		seen[strings.ToLower(c)] = true
	}
	out := parsed
	for _, c := range extra {
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	return out
}

// cleanPhrase trims whitespace, markdown emphasis, and trailing punctuation.
func cleanPhrase(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_`")
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == ';' || r == ':' || r == ',' || unicode.IsSpace(r)
	})
	return strings.TrimSpace(s)
}

// titleCase upper-cases the first letter of each word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
