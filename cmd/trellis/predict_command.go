package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trellis/internal/signs"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <checkpoint> <image>",
		Short: "Classify a single image with a sign classifier checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSigns(func(p *signs.Pipeline) error {
				prediction, err := p.Predict(args[0], args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Predicted %s (%.1f%% confidence)\n",
					prediction.Class, prediction.Confidence*100)

				rows := make([][]string, len(prediction.ClassNames))
				for i, name := range prediction.ClassNames {
					rows[i] = []string{name, fmt.Sprintf("%.4f", prediction.Probabilities[i])}
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Class", "Probability"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				fmt.Fprintf(out, "Chart: %s\n", prediction.ChartPath)
				return nil
			})
		},
	}
}
