package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semtest/output"
	"github.com/c360studio/semtest/watch"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var (
		outputDir string
		format    string
		dryRun    bool
		debounce  time.Duration
		initial   bool
	)

	cmd := &cobra.Command{
		Use:   "watch PATH",
		Short: "Regenerate scenarios whenever a story file changes",
		Long: `Watch a story file or a directory of stories (.md, .txt, .story) and
write <name>.scenarios.<ext> for each story whose content changes.
Stories are processed one at a time.`,
		Args: cobra.ExactArgs(1),
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

			regen := watch.NewRegenerator(app.runner, app.loader,
				watch.WithOutputDir(outputDir),
				watch.WithFormat(f),
				watch.WithDryRun(app.dryRun(dryRun)),
				watch.WithLogger(app.logger))

			cfg := watch.DefaultConfig()
			cfg.Debounce = debounce
			cfg.Initial = initial

			w, err := watch.New(args[0], cfg, regen.Handle, app.logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for scenario files (default: next to each story)")
	cmd.Flags().StringVarP(&format, "output", "o", "markdown", "Output format (console, json, markdown)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Skip the LLM and use the heuristic generator")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultConfig().Debounce, "Quiet period before regenerating")
	cmd.Flags().BoolVar(&initial, "initial", false, "Generate for existing stories at startup")

	return cmd
}
