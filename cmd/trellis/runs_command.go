package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"trellis/internal/config"
	"trellis/internal/runstore"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *runstore.Store) error {
				runs, err := store.List(cmd.Context(), kind)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.ID[:8],
						run.Kind,
						run.StartedAt.Local().Format(time.DateTime),
						runStatus(run),
						formatAccuracy(run.BestValAccuracy, run),
						formatAccuracy(run.TestAccuracy, run),
						checkpointName(run.Checkpoint),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Kind", "Started", "Status", "Best Val", "Test", "Checkpoint"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only show runs of this kind (signs, weather)")
	return cmd
}

func checkpointName(path string) string {
	if path == "" {
		return "-"
	}
	return filepath.Base(path)
}

func runStatus(run *runstore.Run) string {
	if run.Completed() {
		return "completed"
	}
	return "started"
}

func formatAccuracy(value float64, run *runstore.Run) string {
	if !run.Completed() {
		return "-"
	}
	return fmt.Sprintf("%.4f", value)
}
