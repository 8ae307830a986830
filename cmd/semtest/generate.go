package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/semtest/output"
	"github.com/c360studio/semtest/scenario/priority"
	"github.com/c360studio/semtest/workflow"
)

func generateCmd(g *globalFlags) *cobra.Command {
	var (
		storyText    string
		file         string
		url          string
		criteria     []string
		maxScenarios int
		dryRun       bool
		format       string
		save         string
		verbose      bool
		byPriority   bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate test scenarios for one user story",
		Example: `  semtest generate -s "As a user, I want to reset my password" -c "Link expires after 24 hours"
  semtest generate -f stories/login.md -o markdown --save login.md
  semtest generate --url https://example.com/wiki/story --dry-run`,
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

			req := workflow.Request{StoryText: storyText}
			switch {
			case file != "":
				req, err = app.loader.Story(ctx, file)
			case url != "":
				req, err = app.loader.Story(ctx, url)
			}
			if err != nil {
				return err
			}
			req.AcceptanceCriteria = append(req.AcceptanceCriteria, criteria...)
			req.MaxScenarios = maxScenarios
			req.DryRun = app.dryRun(dryRun)

			stderr := cmd.ErrOrStderr()
			if verbose {
				fmt.Fprintf(stderr, "Processing user story: %s\n", preview(req.StoryText, 50))
			}

			res, err := app.runner.RunStory(ctx, req)
			if err != nil {
				return err
			}

			for _, w := range res.Warnings {
				fmt.Fprintf(stderr, "Warning: %s\n", w.Message)
			}
			if verbose {
				fmt.Fprintf(stderr, "Generated %d test scenarios (source: %s, attempts: %d, run: %s)\n",
					len(res.Set.Scenarios), res.Set.Source, len(res.Outcome.Attempts), res.RunID)
			}

			if byPriority {
				res.Set.Scenarios = priority.SortByPriority(res.Set.Scenarios)
			}
			return emit(ctx, cmd.OutOrStdout(), save, f, res.Set)
		},
	}

	cmd.Flags().StringVarP(&storyText, "story", "s", "", "User story text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the story from a file (- for stdin)")
	cmd.Flags().StringVar(&url, "url", "", "Fetch the story from an https URL")
	cmd.Flags().StringArrayVarP(&criteria, "criteria", "c", nil, "Acceptance criterion (repeatable)")
	cmd.Flags().IntVar(&maxScenarios, "max-scenarios", 0, "Maximum scenarios to keep (default from config, 20)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Skip the LLM and use the heuristic generator")
	cmd.Flags().StringVarP(&format, "output", "o", "console", "Output format (console, json, markdown)")
	cmd.Flags().StringVar(&save, "save", "", "Save output to file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	cmd.Flags().BoolVar(&byPriority, "sort-priority", false, "Order scenarios by priority instead of generation order")

	cmd.MarkFlagsOneRequired("story", "file", "url")
	cmd.MarkFlagsMutuallyExclusive("story", "file", "url")

	return cmd
}

// preview returns the first n runes of s followed by "..." when truncated.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
