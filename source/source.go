// Package source loads user stories from files, globs, URLs and batch files.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semtest/source/weburl"
	"github.com/c360studio/semtest/workflow"
)

// Stdin is the reference that reads the story from standard input.
const Stdin = "-"

// Loader resolves story references.
type Loader struct {
	fetcher *weburl.Fetcher
	stdin   io.Reader
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFetcher sets the fetcher used for https references.
func WithFetcher(f *weburl.Fetcher) LoaderOption {
	return func(l *Loader) { l.fetcher = f }
}

// WithStdin sets the reader used for the "-" reference.
func WithStdin(r io.Reader) LoaderOption {
	return func(l *Loader) { l.stdin = r }
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{stdin: os.Stdin}
	for _, opt := range opts {
		opt(l)
	}
	if l.fetcher == nil {
		l.fetcher = weburl.NewFetcher()
	}
	return l
}

// Story loads a single story from "-", an https URL, or a file path. Files
// and stdin may start with YAML frontmatter (see ParseStoryFile).
func (l *Loader) Story(ctx context.Context, ref string) (workflow.Request, error) {
	switch {
	case ref == Stdin:
		data, err := io.ReadAll(l.stdin)
		if err != nil {
			return workflow.Request{}, fmt.Errorf("read stdin: %w", err)
		}
		return ParseStoryFile(string(data))

	case strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://"):
		page, err := l.fetcher.Fetch(ctx, ref)
		if err != nil {
			return workflow.Request{}, fmt.Errorf("load %s: %w", ref, err)
		}
		req := workflow.Request{StoryText: page.Markdown}
		if !hasHeading(page.Markdown) {
			req.Title = page.Title
		}
		return req, nil
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return workflow.Request{}, fmt.Errorf("read story: %w", err)
	}
	req, err := ParseStoryFile(string(data))
	if err != nil {
		return workflow.Request{}, fmt.Errorf("%s: %w", ref, err)
	}
	return req, nil
}

// Batch expands patterns and loads every matching file. Batch files (.json,
// .yaml, .yml) contribute one request per entry; any other file is one story.
func (l *Loader) Batch(ctx context.Context, patterns ...string) ([]workflow.Request, error) {
	paths, err := Expand(patterns...)
	if err != nil {
		return nil, err
	}

	var out []workflow.Request
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !IsBatchFile(p) {
			req, err := l.Story(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, req)
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read batch: %w", err)
		}
		reqs, err := ParseBatch(data, filepath.Ext(p))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, reqs...)
	}
	return out, nil
}

// IsBatchFile reports whether path holds a list of stories.
func IsBatchFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Expand resolves file paths and doublestar globs ("stories/**/*.md") into a
// sorted, de-duplicated list of regular files.
func Expand(patterns ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		var matches []string
		if strings.ContainsAny(pattern, "*?[{") {
			m, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", pattern, err)
			}
			sort.Strings(m)
			matches = m
		} else {
			matches = []string{pattern}
		}

		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", m, err)
			}
			if info.IsDir() || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no story files match %s", strings.Join(patterns, ", "))
	}
	return out, nil
}

// entry is one batch element: a bare story string or an object.
type entry struct {
	workflow.Request
}

type entryFields struct {
	Title              string   `json:"title" yaml:"title"`
	Story              string   `json:"story" yaml:"story"`
	StoryText          string   `json:"story_text" yaml:"story_text"`
	AcceptanceCriteria []string `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	Criteria           []string `json:"criteria" yaml:"criteria"`
	MaxScenarios       int      `json:"max_scenarios" yaml:"max_scenarios"`
}

func (e *entry) fill(f entryFields) {
	e.Title = f.Title
	e.StoryText = f.StoryText
	if e.StoryText == "" {
		e.StoryText = f.Story
	}
	e.AcceptanceCriteria = f.AcceptanceCriteria
	if len(e.AcceptanceCriteria) == 0 {
		e.AcceptanceCriteria = f.Criteria
	}
	e.MaxScenarios = f.MaxScenarios
}

func (e *entry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.StoryText = s
		return nil
	}
	var f entryFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	e.fill(f)
	return nil
}

func (e *entry) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		e.StoryText = n.Value
		return nil
	case yaml.MappingNode:
		var f entryFields
		if err := n.Decode(&f); err != nil {
			return err
		}
		e.fill(f)
		return nil
	}
	return fmt.Errorf("line %d: expected a story string or object", n.Line)
}

// batchDoc accepts either a bare list or {"stories": [...]}.
type batchDoc struct {
	Stories []entry `json:"stories" yaml:"stories"`
}

// ParseBatch decodes a batch document. ext selects JSON (".json") or YAML;
// anything else is sniffed from the first non-space byte.
func ParseBatch(data []byte, ext string) ([]workflow.Request, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("batch is empty")
	}

	var entries []entry
	isJSON := strings.EqualFold(ext, ".json") ||
		(ext == "" && (trimmed[0] == '[' || trimmed[0] == '{'))

	var err error
	if isJSON {
		if trimmed[0] == '{' {
			var doc batchDoc
			err = json.Unmarshal(data, &doc)
			entries = doc.Stories
		} else {
			err = json.Unmarshal(data, &entries)
		}
	} else {
		var root yaml.Node
		if err = yaml.Unmarshal(data, &root); err == nil && len(root.Content) > 0 &&
			root.Content[0].Kind == yaml.MappingNode {
			var doc batchDoc
			err = root.Decode(&doc)
			entries = doc.Stories
		} else if err == nil {
			err = root.Decode(&entries)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}

	out := make([]workflow.Request, 0, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.StoryText) == "" {
			return nil, fmt.Errorf("entry %d: story text is required", i+1)
		}
		out = append(out, e.Request)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("batch has no stories")
	}
	return out, nil
}

func hasHeading(markdown string) bool {
	for _, line := range strings.Split(markdown, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			return true
		}
	}
	return false
}
