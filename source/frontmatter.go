package source

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semtest/workflow"
)

const frontmatterDelimiter = "---"

// ParseStoryFile reads a story document with optional YAML frontmatter:
//
//	---
//	title: User Login
//	acceptance_criteria:
//	  - Account locked after 3 failed attempts
//	max_scenarios: 10
//	---
//	As a registered user, I want to ...
//
// Frontmatter keys are the batch entry keys. When the frontmatter carries a
// story (or story_text) and the body is empty, that story is used.
func ParseStoryFile(content string) (workflow.Request, error) {
	if !strings.HasPrefix(content, frontmatterDelimiter+"\n") && !strings.HasPrefix(content, frontmatterDelimiter+"\r\n") {
		return workflow.Request{StoryText: content}, nil
	}

	meta, body, err := splitFrontmatter(content)
	if err != nil {
		return workflow.Request{}, err
	}

	var f entryFields
	if err := yaml.Unmarshal([]byte(meta), &f); err != nil {
		return workflow.Request{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	var e entry
	e.fill(f)
	if strings.TrimSpace(body) != "" {
		e.StoryText = body
	}
	return e.Request, nil
}

// splitFrontmatter returns the YAML between the delimiters and the body
// after the closing one.
func splitFrontmatter(content string) (string, string, error) {
	start := len(frontmatterDelimiter)
	if start < len(content) && content[start] == '\r' {
		start++
	}
	if start < len(content) && content[start] == '\n' {
		start++
	}

	rest := content[start:]
	closeIdx := -1
	if strings.HasPrefix(rest, frontmatterDelimiter) {
		closeIdx = 0
	} else if i := strings.Index(rest, "\n"+frontmatterDelimiter); i >= 0 {
		closeIdx = i + 1
	}
	if closeIdx < 0 {
		return "", "", fmt.Errorf("frontmatter: no closing %q", frontmatterDelimiter)
	}

	body := strings.TrimLeft(rest[closeIdx+len(frontmatterDelimiter):], "\r\n")
	return rest[:closeIdx], body, nil
}
