package heuristic

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Vocabulary holds the trigger lists that decide which optional scenario
// categories are emitted. It is plain configuration data: the generator
// compiles it once and never mutates it.
type Vocabulary struct {
	// ValidationTerms mark a criterion as describing a correctness check,
	// format, or required field. Each match emits a negative scenario.
	ValidationTerms []string `yaml:"validation_terms" json:"validation_terms"`

	// SecurityTerms mark authentication, session, or credential handling.
	// Any match in the story emits exactly one security scenario.
	SecurityTerms []string `yaml:"security_terms" json:"security_terms"`

	// NumericPatterns detect a count or quantity threshold in a criterion.
	// The first capture group (or the whole match) must parse as an integer.
	NumericPatterns []string `yaml:"numeric_patterns" json:"numeric_patterns"`
}

// DefaultVocabulary returns the built-in trigger lists.
//
// Numeric detection matches any standalone digit run, so "5 failed attempts",
// "max 100 characters" and "within 3 seconds" all count as thresholds.
// Spelled-out numbers are not detected unless a pattern is added for them.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		ValidationTerms: []string{
			"valid", "invalid", "validate", "validates", "validated", "validation",
			"format", "formatted", "formats", "required", "mandatory",
			"correct", "correctly", "incorrect", "verify", "verifies",
			"check", "checks", "reject", "rejects", "rejected", "error", "errors",
			"allowed", "not allowed", "must not",
		},
		SecurityTerms: []string{
			"login", "log in", "log into", "logged in", "logout", "log out",
			"sign in", "sign-in", "password", "passwords", "credential", "credentials",
			"authentication", "authenticate", "authenticated", "auth",
			"authorization", "authorized", "unauthorized", "session", "sessions",
			"token", "tokens", "permission", "permissions", "secure", "securely",
			"security", "2fa", "otp", "api key",
		},
		NumericPatterns: []string{
			`\b(\d+)\b`,
		},
	}
}

// Merge returns a copy of v where non-empty lists from other replace v's lists.
func (v Vocabulary) Merge(other Vocabulary) Vocabulary {
	out := v
	if len(other.ValidationTerms) > 0 {
		out.ValidationTerms = append([]string(nil), other.ValidationTerms...)
	}
	if len(other.SecurityTerms) > 0 {
		out.SecurityTerms = append([]string(nil), other.SecurityTerms...)
	}
	if len(other.NumericPatterns) > 0 {
		out.NumericPatterns = append([]string(nil), other.NumericPatterns...)
	}
	return out
}

// matcher is the compiled form of a Vocabulary.
type matcher struct {
	validation *regexp.Regexp
	security   *regexp.Regexp
	numeric    []*regexp.Regexp
}

func compileVocabulary(v Vocabulary) (*matcher, error) {
	m := &matcher{
		validation: termsPattern(v.ValidationTerms),
		security:   termsPattern(v.SecurityTerms),
	}
	for _, p := range v.NumericPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile numeric pattern %q: %w", p, err)
		}
		m.numeric = append(m.numeric, re)
	}
	return m, nil
}

// termsPattern builds a case-insensitive whole-word alternation. It returns
// nil for an empty list.
func termsPattern(terms []string) *regexp.Regexp {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(t)))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func (m *matcher) isValidation(text string) bool {
	return m.validation != nil && m.validation.MatchString(text)
}

func (m *matcher) isSecurity(text string) bool {
	return m.security != nil && m.security.MatchString(text)
}

// threshold returns the first numeric quantity found in text. Quantities are
// arbitrary precision so that n-1 and n+1 never overflow.
func (m *matcher) threshold(text string) (*big.Int, bool) {
	for _, re := range m.numeric {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		raw := match[0]
		if len(match) > 1 && match[1] != "" {
			raw = match[1]
		}
		n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok {
			continue
		}
		return n, true
	}
	return nil, false
}
