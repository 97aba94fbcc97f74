package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/annoscope/internal/application/ownership"
	"github.com/bryanwahyu/annoscope/internal/application/viewer"
	"github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/infra/engine"
)

func newCompareCmd(opts *globalOptions) *cobra.Command {
	var left, right, group string

	cmd := &cobra.Command{
		Use:   "compare IMAGE_ID [FILE|-]",
		Short: "Show the same image on two comparison surfaces",
		Long: `Mounts two comparison surfaces for IMAGE_ID, injects the bundle read
from FILE into the left one only and prints the annotations each surface
renders with its tool group, then tears both down and prints what every cleanup pass removed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[1:])
			if err != nil {
				return err
			}
			bundle := annotations.UnwrapRaw(raw).Bundle()
			if group == "" {
				group = opts.cfg.Viewer.ToolGroup
			}

			eng := engine.New(engine.WithLogger(opts.logger))
			gate := ownership.NewGate(eng, eng, opts.logger, nil)
			mgr := viewer.NewManager(eng, eng, gate, viewer.Defaults{
				Scheme: opts.scheme,
				Group:  group,
			}, opts.logger, nil)

			ls, err := mgr.Mount(cmd.Context(), viewer.MountRequest{Host: "left", ImageID: args[0], Comparison: left, Group: group + "-" + left, Bundle: &bundle})
			if err != nil {
				return err
			}
			rs, err := mgr.Mount(cmd.Context(), viewer.MountRequest{Host: "right", ImageID: args[0], Comparison: right, Group: group + "-" + right})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range []*viewer.Surface{ls, rs} {
				visible := eng.Visible(s.Handle)
				fmt.Fprintf(out, "%s\t%s\t%d visible\tgroup=%s\n", s.Host, s.ImageID(), len(visible), s.Group)
				for _, a := range visible {
					fmt.Fprintf(out, "  %s\t%s\n", a.Kind(), a.ImageID())
				}
			}

			for _, rep := range mgr.TeardownAll() {
				parts := make([]string, 0, len(rep.Passes))
				for _, p := range rep.Passes {
					parts = append(parts, fmt.Sprintf("%s=%d", p.Name, p.Removed))
				}
				fmt.Fprintf(out, "teardown %s\t%s\n", rep.Handle, strings.Join(parts, " "))
			}
			fmt.Fprintf(out, "remaining %d\n", len(eng.All()))
			return nil
		},
	}
	cmd.Flags().StringVar(&left, "left", "left", "disambiguator of the left surface")
	cmd.Flags().StringVar(&right, "right", "right", "disambiguator of the right surface")
	cmd.Flags().StringVar(&group, "group", "", "tool group prefix (default viewer.toolGroup)")
	return cmd
}
