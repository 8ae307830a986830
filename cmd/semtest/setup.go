package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/semtest/config"
	"github.com/c360studio/semtest/llm"
)

// smokeStory is the story used for the setup smoke test.
const smokeStory = "As a user, I want to test the system so that I know it works."

func setupCmd(g *globalFlags) *cobra.Command {
	var (
		initConfig bool
		live       bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Check configuration and run a smoke test",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Semtest setup")
			fmt.Fprintln(out, "========================================")

			loader := config.NewLoader(newLogger(g.logLevel, cmd.ErrOrStderr()))
			if initConfig {
				path, err := loader.EnsureUserConfig()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ User config at %s\n", path)
			} else if path := loader.UserConfigPath(); path != "" {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "✓ User config found: %s\n", path)
				} else {
					fmt.Fprintf(out, "- No user config (run 'semtest setup --init' to create %s)\n", path)
				}
			}

			app, err := newApp(g, cmd.ErrOrStderr())
			if err != nil {
				fmt.Fprintf(out, "✗ Configuration invalid: %v\n", err)
				return err
			}
			defer app.Close()

			lc := app.cfg.LLM
			if llm.GetProvider(lc.Provider) == nil {
				fmt.Fprintf(out, "✗ Unknown provider %q (available: %v)\n", lc.Provider, llm.ListProviders())
				return fmt.Errorf("unknown provider %q", lc.Provider)
			}
			fmt.Fprintf(out, "✓ Provider %s, model %s\n", lc.Provider, lc.Model)

			keyEnv := llm.KeyEnv(lc.Provider)
			hasKey := lc.APIKey != "" || lc.Provider == "ollama"
			if hasKey {
				fmt.Fprintln(out, "✓ API key configured")
			} else {
				fmt.Fprintf(out, "✗ %s not set; runs will use the heuristic generator\n", keyEnv)
			}

			if app.store != nil {
				fmt.Fprintf(out, "✓ Run history: %s\n", app.cfg.Store.Path)
			}

			set, _, err := app.runner.RunGeneration(cmd.Context(), smokeStory, 0, true)
			if err != nil {
				fmt.Fprintf(out, "✗ Generator test failed: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "✓ Heuristic generation successful (%d scenarios)\n", len(set.Scenarios))

			if live {
				if !hasKey {
					return fmt.Errorf("--live needs %s", keyEnv)
				}
				res, _, err := app.runner.RunGeneration(cmd.Context(), smokeStory, 0, false)
				if err != nil {
					fmt.Fprintf(out, "✗ Live generation failed: %v\n", err)
					return err
				}
				fmt.Fprintf(out, "✓ Live generation finished (%d scenarios from %s)\n", len(res.Scenarios), res.Source)
			}

			fmt.Fprintln(out, "\nSetup complete. Try: semtest demo --example login")
			return nil
		},
	}

	cmd.Flags().BoolVar(&initConfig, "init", false, "Create the user config file with defaults")
	cmd.Flags().BoolVar(&live, "live", false, "Also run one generation against the configured LLM")
	return cmd
}
