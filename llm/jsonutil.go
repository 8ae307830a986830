package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencePattern matches the body of a markdown code block: ```json ... ```
var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// maxValueCandidates bounds how many bracketed spans ExtractJSONValue tries.
const maxValueCandidates = 16

// ExtractJSON extracts a JSON object from an LLM response string.
// It handles markdown code blocks, surrounding prose, JavaScript-style
// comments, and trailing commas. Returns "" when no object is present.
func ExtractJSON(content string) string {
	raw := extractDelimited(stripComments(unfence(content)), '{', '}')
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

// ExtractJSONArray extracts a JSON array from an LLM response string.
func ExtractJSONArray(content string) string {
	raw := extractDelimited(stripComments(unfence(content)), '[', ']')
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

// ExtractJSONValue extracts the first JSON document (object or array) in the
// response that parses after cleaning. Scenario sets may arrive in either
// form, and prose such as "[v1]" before the document is skipped. When no
// span parses, the earliest one is returned so that callers can report why.
func ExtractJSONValue(content string) string {
	body := stripComments(unfence(content))

	var earliest string
	for i, tried := 0, 0; i < len(body) && tried < maxValueCandidates; i++ {
		var raw string
		switch body[i] {
		case '{':
			raw = extractDelimited(body[i:], '{', '}')
		case '[':
			raw = extractDelimited(body[i:], '[', ']')
		default:
			continue
		}
		if raw == "" {
			continue
		}
		tried++

		cleaned := cleanJSON(raw)
		if json.Valid([]byte(cleaned)) {
			return cleaned
		}
		if earliest == "" {
			earliest = cleaned
		}
		// Resume after the span so nested values are not tried on their own.
		i += len(raw) - 1
	}
	return earliest
}

// unfence returns the body of the first fenced block that contains JSON,
// or the content unchanged.
func unfence(content string) string {
	for _, m := range fencePattern.FindAllStringSubmatch(content, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
			return body
		}
	}
	return content
}

// extractDelimited returns the span from the first open byte to its matching
// close byte, respecting JSON strings. When the document is unbalanced it
// falls back to the last close byte.
func extractDelimited(content string, open, close byte) string {
	start := strings.IndexByte(content, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	if end := strings.LastIndexByte(content, close); end > start {
		return content[start : end+1]
	}
	return ""
}

// stripComments removes // comments line by line so that brackets or quotes
// inside a comment do not confuse extraction.
func stripComments(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = stripLineComment(line)
	}
	return strings.Join(lines, "\n")
}

// cleanJSON removes JavaScript-style comments and trailing commas from JSON.
// LLMs commonly produce these invalid JSON artifacts.
func cleanJSON(raw string) string {
	result := stripTrailingCommas(stripComments(raw))
	return strings.TrimSpace(result)
}

// stripTrailingCommas drops a comma when the next non-space byte closes an
// array or object. Commas inside string values are kept.
func stripTrailingCommas(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inString := false
	escaped := false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case !inString && ch == ',':
			j := i + 1
			for j < len(content) && strings.IndexByte(" \t\r\n", content[j]) >= 0 {
				j++
			}
			if j < len(content) && (content[j] == ']' || content[j] == '}') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// stripLineComment removes a // comment from a JSON line, respecting string values.
// For example:
//
//	"Open https://example.com", // first step  → "Open https://example.com",
//	"title": "Login"                          → "title": "Login" (no change)
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}

	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
