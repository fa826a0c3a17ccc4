package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trellis/internal/signs"
	"trellis/internal/weather"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	evalCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a stored checkpoint",
	}

	evalCmd.AddCommand(newEvaluateSignsCommand(ctx))
	evalCmd.AddCommand(newEvaluateWeatherCommand(ctx))
	return evalCmd
}

func newEvaluateSignsCommand(ctx *commandContext) *cobra.Command {
	var split string

	cmd := &cobra.Command{
		Use:   "signs <checkpoint>",
		Short: "Evaluate a sign classifier checkpoint against a dataset split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSigns(func(p *signs.Pipeline) error {
				result, err := p.Evaluate(args[0], split)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Split %s: loss %.4f, accuracy %.4f (%d samples)\n",
					split, result.Result.Loss, result.Result.Accuracy, result.Result.Confusion.Total())
				fmt.Fprintln(out, result.Report.Render())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&split, "split", "test", "Dataset split to evaluate (train, val, test)")
	return cmd
}

func newEvaluateWeatherCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "weather <checkpoint>",
		Short: "Evaluate a rain predictor checkpoint on the held-out partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWeather(func(p *weather.Pipeline) error {
				evaluation, report, err := p.Evaluate(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Test loss %.4f, accuracy %.4f (%d samples)\n",
					evaluation.Loss, evaluation.Accuracy, evaluation.Confusion.Total())
				fmt.Fprintln(out, report.Render())
				return nil
			})
		},
	}
}
