// Package dedupe collapses scenarios whose titles normalize to the same
// fingerprint.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/c360studio/semtest/scenario"
)

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 16

// Normalize lowercases a title, strips punctuation, and collapses whitespace.
func Normalize(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Fingerprint returns the content key used to detect duplicate scenarios.
func Fingerprint(title string) string {
	sum := sha256.Sum256([]byte(Normalize(title)))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Dedupe collapses scenarios that share a fingerprint. The first occurrence
// keeps its id and category; traces are unioned in first-seen order. Output
// order follows first occurrence. Identifiers are made unique: a later
// scenario whose id collides with an earlier one is renumbered to the next
// free sequence for its prefix. Dedupe is idempotent and does not modify its
// input.
func Dedupe(in []scenario.Scenario) []scenario.Scenario {
	if in == nil {
		return nil
	}

	out := make([]scenario.Scenario, 0, len(in))
	index := make(map[string]int, len(in))
	for _, s := range in {
		fp := Fingerprint(s.Title)
		if i, ok := index[fp]; ok {
			out[i].Trace = unionTrace(out[i].Trace, s.Trace)
			continue
		}
		index[fp] = len(out)
		c := s.Clone()
		c.Trace = unionTrace(nil, c.Trace)
		out = append(out, c)
	}

	return uniqueIDs(out)
}

// unionTrace appends the references from add that are not yet in base.
func unionTrace(base, add []string) []string {
	out := append([]string{}, base...)
	seen := make(map[string]bool, len(base)+len(add))
	for _, ref := range base {
		seen[ref] = true
	}
	for _, ref := range add {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// uniqueIDs renumbers colliding identifiers in place.
func uniqueIDs(scenarios []scenario.Scenario) []scenario.Scenario {
	used := make(map[string]bool, len(scenarios))
	maxSeq := make(map[string]int)
	for _, s := range scenarios {
		if prefix, seq, ok := scenario.ParseID(s.ID); ok && seq > maxSeq[prefix] {
			maxSeq[prefix] = seq
		}
	}

	for i := range scenarios {
		id := scenarios[i].ID
		if id != "" && !used[id] {
			used[id] = true
			continue
		}
		prefix, _, ok := scenario.ParseID(id)
		if !ok {
			prefix = scenarios[i].Category.Prefix()
		}
		for {
			maxSeq[prefix]++
			candidate := scenario.JoinID(prefix, maxSeq[prefix])
			if !used[candidate] {
				scenarios[i].ID = candidate
				used[candidate] = true
				break
			}
		}
	}
	return scenarios
}
