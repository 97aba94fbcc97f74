package main

import (
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/annoscope/internal/domain/annotations"
)

func newBundleCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Work with stored annotation bundles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "unwrap [FILE|-]",
		Short: "Normalise a stored payload of any known shape into a bundle",
		Long: `Accepts a bundle object, a bare array, a record container with an
"annotations" field, or any of those encoded as a JSON string up to three
times. Malformed entries are skipped and counted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			u := annotations.UnwrapRaw(raw)
			opts.logger.Info("unwrapped",
				"shape", u.Shape.String(),
				"depth", u.Depth,
				"objects", len(u.Objects),
				"skipped", u.Skipped,
			)
			return writeJSON(cmd, u.Bundle())
		},
	})
	return cmd
}
