package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/c360studio/semtest/config"
	"github.com/c360studio/semtest/heuristic"
	"github.com/c360studio/semtest/llm"
	_ "github.com/c360studio/semtest/llm/providers"
	"github.com/c360studio/semtest/metrics"
	"github.com/c360studio/semtest/output"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/source"
	"github.com/c360studio/semtest/storage"
	"github.com/c360studio/semtest/workflow"
)

// App wires configuration into a ready Runner.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	health  *llm.Health
	store   *storage.Store
	runner  *workflow.Runner
	loader  *source.Loader
}

// newApp loads configuration and builds every component. Close releases
// the run history database.
func newApp(g *globalFlags, stderr io.Writer) (*App, error) {
	logger := newLogger(g.logLevel, stderr)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.storePath != "" {
		cfg.Store.Path = g.storePath
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		health:  llm.NewHealth(cfg.LLM.Circuit),
		loader:  source.NewLoader(),
	}

	if cfg.Store.Path != "" {
		store, err := storage.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		app.store = store
	}

	runner, err := app.buildRunner()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.runner = runner
	return app, nil
}

func (a *App) buildRunner() (*workflow.Runner, error) {
	engine, err := a.cfg.Heuristics.PriorityEngine()
	if err != nil {
		return nil, fmt.Errorf("priority weights: %w", err)
	}
	heur, err := heuristic.New(a.cfg.Heuristics.Vocabulary(), engine)
	if err != nil {
		return nil, fmt.Errorf("heuristic vocabulary: %w", err)
	}

	clientOpts := []llm.ClientOption{llm.WithLogger(a.logger), llm.WithHealth(a.health)}
	if a.store != nil {
		clientOpts = append(clientOpts, llm.WithCallRecorder(a.store))
	}
	client := llm.NewClient(a.cfg.LLM.Endpoints(), clientOpts...)

	controller := workflow.NewController(
		workflow.WithExternal(workflow.NewLLMGenerator(client,
			workflow.WithTemperature(a.cfg.LLM.Temperature),
			workflow.WithMaxTokens(a.cfg.LLM.MaxTokens))),
		workflow.WithHeuristic(heur),
		workflow.WithControllerConfig(workflow.ControllerConfig{
			Retry:          a.cfg.Generation.RetryConfig(),
			AttemptTimeout: a.cfg.LLM.Timeout,
		}),
		workflow.WithControllerLogger(a.logger),
		workflow.WithObserver(a.metrics),
	)

	opts := []workflow.RunnerOption{
		workflow.WithPriorityEngine(engine),
		workflow.WithRunObserver(a.metrics),
		workflow.WithLogger(a.logger),
		workflow.WithDefaultMaxScenarios(a.cfg.Generation.MaxScenarios),
	}
	if a.store != nil {
		opts = append(opts, workflow.WithRunRecorder(a.store))
	}
	return workflow.NewRunner(controller, opts...), nil
}

// Close releases resources held by the app.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close run history", "error", err)
		}
	}
}

// dryRun reports whether a run should skip the external generator.
func (a *App) dryRun(flag bool) bool {
	return flag || a.cfg.Generation.DryRun
}

// emit renders sets to w, or to path when path is non-empty.
func emit(ctx context.Context, w io.Writer, path string, format output.Format, sets ...*scenario.Set) error {
	if path == "" {
		return output.Render(w, format, sets...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := output.Render(f, format, sets...); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "Output saved to: %s\n", path)
	return nil
}
