package watch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/semtest/output"
	"github.com/c360studio/semtest/source"
	"github.com/c360studio/semtest/workflow"
)

// Regenerator writes a scenario file next to each changed story.
type Regenerator struct {
	runner    *workflow.Runner
	loader    *source.Loader
	outputDir string
	format    output.Format
	dryRun    bool
	logger    *slog.Logger
}

// RegeneratorOption configures a Regenerator.
type RegeneratorOption func(*Regenerator)

// WithOutputDir writes scenario files into dir instead of beside the story.
func WithOutputDir(dir string) RegeneratorOption {
	return func(g *Regenerator) { g.outputDir = dir }
}

// WithFormat sets the output format (default: markdown).
func WithFormat(f output.Format) RegeneratorOption {
	return func(g *Regenerator) { g.format = f }
}

// WithDryRun skips the external generator.
func WithDryRun(dryRun bool) RegeneratorOption {
	return func(g *Regenerator) { g.dryRun = dryRun }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegeneratorOption {
	return func(g *Regenerator) { g.logger = l }
}

// NewRegenerator creates a regenerator.
func NewRegenerator(runner *workflow.Runner, loader *source.Loader, opts ...RegeneratorOption) *Regenerator {
	g := &Regenerator{
		runner: runner,
		loader: loader,
		format: output.FormatMarkdown,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OutputPath returns where scenarios for the story at path are written.
func (g *Regenerator) OutputPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := g.outputDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return filepath.Join(dir, base+OutputSuffix+g.format.Extension())
}

// Handle regenerates scenarios for one story file. It satisfies Handler.
func (g *Regenerator) Handle(ctx context.Context, path string) error {
	req, err := g.loader.Story(ctx, path)
	if err != nil {
		return err
	}
	req.DryRun = g.dryRun

	res, err := g.runner.RunStory(ctx, req)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := output.Render(&buf, g.format, res.Set); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}

	out := g.OutputPath(path)
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp := out + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	g.logger.Info("Regenerated scenarios",
		"story", path,
		"output", out,
		"run_id", res.RunID,
		"scenarios", len(res.Set.Scenarios))
	return nil
}
