package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
)

func newIDCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Work with image identifiers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "parse IMAGE_ID",
		Short: "Extract study, series, image and frame keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := imageid.ParseKeys(args[0])
			if err != nil {
				return err
			}
			scheme, location := imageid.SplitScheme(args[0])
			out := map[string]any{
				"scheme":    scheme,
				"location":  location,
				"studyKey":  k.StudyKey,
				"seriesKey": k.SeriesKey,
				"imageKey":  k.ImageKey,
				"path":      k.String(),
			}
			if k.HasFrame() {
				out["frameNo"] = k.FrameNo
			}
			return writeJSON(cmd, out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "synth IMAGE_ID DISAMBIGUATOR",
		Short: "Print the synthetic identifier a comparison surface would load",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := imageid.EnsureScheme(args[0], opts.scheme)
			id, err := annotations.DeriveSyntheticID(base, args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	})
	return cmd
}
