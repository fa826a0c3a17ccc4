package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"trellis/internal/signs"
	"trellis/internal/weather"
	"trellis/training"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model",
	}

	trainCmd.AddCommand(newTrainSignsCommand(ctx))
	trainCmd.AddCommand(newTrainWeatherCommand(ctx))
	return trainCmd
}

func newTrainSignsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "signs",
		Short: "Train the traffic sign classifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSigns(func(p *signs.Pipeline) error {
				result, err := p.Train(cmd.Context())
				if err != nil {
					return err
				}
				printTrainOutcome(cmd.OutOrStdout(), result.RunID, result.History,
					result.Test, result.Report, result.CheckpointPath, result.ChartPaths)
				return nil
			})
		},
	}
}

func newTrainWeatherCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "weather",
		Short: "Train the rain predictor on the configured CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWeather(func(p *weather.Pipeline) error {
				result, err := p.Train(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result.DroppedRows > 0 {
					fmt.Fprintf(out, "Dropped %d rows with missing values\n", result.DroppedRows)
				}
				printTrainOutcome(out, result.RunID, result.History,
					result.Test, result.Report, result.CheckpointPath, result.ChartPaths)
				return nil
			})
		},
	}
}

func printTrainOutcome(out io.Writer, runID string, history *training.History,
	test *training.EvaluationResult, report *training.ClassificationReport,
	checkpointPath string, chartPaths []string) {
	if runID != "" {
		fmt.Fprintf(out, "Run %s\n", runID)
	}
	fmt.Fprintf(out, "Trained %d epochs; best epoch %d (val accuracy %.4f)\n",
		history.Len(), history.BestEpoch, history.BestValAccuracy)
	if test != nil {
		fmt.Fprintf(out, "Test loss %.4f, accuracy %.4f\n", test.Loss, test.Accuracy)
	}
	if report != nil {
		fmt.Fprintln(out, report.Render())
	}
	fmt.Fprintf(out, "Checkpoint: %s\n", checkpointPath)
	for _, path := range chartPaths {
		fmt.Fprintf(out, "Chart: %s\n", path)
	}
}
