package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trellis/internal/signs"
)

func newPrepareCommand(ctx *commandContext) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Assemble the sign image dataset into train/val/test splits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSigns(func(p *signs.Pipeline) error {
				summary, err := p.Prepare(overwrite)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), summary.String())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing dataset directory")
	return cmd
}
