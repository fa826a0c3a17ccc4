package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trellis/internal/signs"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <checkpoint>",
		Short: "Export a checkpoint to ONNX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSigns(func(p *signs.Pipeline) error {
				dst, err := p.Export(args[0], output)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s\n", dst)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination .onnx path (default: checkpoint name with .onnx)")
	return cmd
}
