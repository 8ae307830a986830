package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/semtest/output"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/workflow"
)

func batchCmd(g *globalFlags) *cobra.Command {
	var (
		concurrency  int
		format       string
		save         string
		dryRun       bool
		maxScenarios int
	)

	cmd := &cobra.Command{
		Use:   "batch INPUT_FILE_OR_GLOB...",
		Short: "Generate scenarios for many user stories",
		Long: `Generate scenarios for every story in the given files.

JSON and YAML files hold a list of stories (or {"stories": [...]}); each entry
is a string or an object with story (or story_text), optional title,
acceptance_criteria (or criteria) and max_scenarios. Any other file is read
as a single story. Glob patterns such as "stories/**/*.md" are expanded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}

			app, err := newApp(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			reqs, err := app.loader.Batch(ctx, args...)
			if err != nil {
				return err
			}
			for i := range reqs {
				reqs[i].DryRun = reqs[i].DryRun || app.dryRun(dryRun)
				if reqs[i].MaxScenarios == 0 {
					reqs[i].MaxScenarios = maxScenarios
				}
			}
			if concurrency <= 0 {
				concurrency = app.cfg.Generation.Concurrency
			}

			stderr := cmd.ErrOrStderr()
			fmt.Fprintf(stderr, "Processing %d stories (concurrency %d)...\n", len(reqs), concurrency)

			results := app.runner.RunBatch(ctx, reqs, concurrency)
			sets := make([]*scenario.Set, 0, len(results))
			for _, res := range results {
				if res.Err != nil {
					fmt.Fprintf(stderr, "Story %d/%d failed: %v\n", res.Index+1, len(results), res.Err)
					continue
				}
				fmt.Fprintf(stderr, "Story %d/%d: %s (%d scenarios, %s)\n",
					res.Index+1, len(results), res.Result.Set.Metadata.StoryTitle,
					len(res.Result.Set.Scenarios), res.Result.Set.Source)
				sets = append(sets, res.Result.Set)
			}

			if err := emit(ctx, cmd.OutOrStdout(), save, f, sets...); err != nil {
				return err
			}
			if n := workflow.Failed(results); n > 0 {
				return fmt.Errorf("%d of %d stories failed", n, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Stories processed in parallel (default from config)")
	cmd.Flags().StringVarP(&format, "output", "o", "console", "Output format (console, json, markdown)")
	cmd.Flags().StringVar(&save, "save", "", "Save combined output to file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Skip the LLM and use the heuristic generator")
	cmd.Flags().IntVar(&maxScenarios, "max-scenarios", 0, "Maximum scenarios per story (default from config)")

	return cmd
}
