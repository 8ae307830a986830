package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semtest/llm"
	"github.com/c360studio/semtest/scenario"
	"github.com/c360studio/semtest/storage"
	"github.com/c360studio/semtest/workflow"
)

var errHistoryDisabled = errors.New("run history is disabled; set store.path, SEMTEST_STORE or --store")

func historyCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		source string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded generation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			if app.store == nil {
				return errHistoryDisabled
			}

			runs, err := app.store.ListRuns(cmd.Context(), storage.ListOptions{
				Limit:  limit,
				Source: scenario.Source(source),
			})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tSOURCE\tATTEMPTS\tSCENARIOS\tELAPSED\tSTORY")
			for _, r := range runs {
				src := string(r.Source)
				if r.DryRun {
					src += " (dry-run)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), src,
					r.Attempts, r.ScenarioCount, r.Elapsed.Round(time.Millisecond), r.StoryTitle)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().StringVar(&source, "source", "", "Only runs whose scenarios came from this source (external, heuristic)")

	cmd.AddCommand(historyShowCmd(g))
	return cmd
}

// runDetail is a recorded run with the LLM calls it made.
type runDetail struct {
	*workflow.RunRecord
	Calls []*llm.CallRecord `json:"calls,omitempty"`
}

func historyShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print one recorded run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			if app.store == nil {
				return errHistoryDisabled
			}

			run, err := app.store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			calls, err := app.store.CallsForRun(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runDetail{RunRecord: run, Calls: calls})
		},
	}
}
