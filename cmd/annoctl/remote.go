package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/annoscope/internal/application/persistence"
	"github.com/bryanwahyu/annoscope/internal/domain/annotations"
	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
	"github.com/bryanwahyu/annoscope/internal/infra/engine"
)

func newFetchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch IMAGE_ID",
		Short: "Load the latest saved bundle for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := imageid.ParseKeys(args[0])
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			svc := &persistence.Service{Backend: client, Logger: opts.logger}
			got, err := svc.Fetch(cmd.Context(), keys)
			if err != nil {
				return err
			}
			if got.Empty {
				opts.logger.Info("no annotations", "keys", keys.String())
			}
			return writeJSON(cmd, got.Bundle)
		},
	}
}

func newSaveCmd(opts *globalOptions) *cobra.Command {
	var filter, image string
	var tools []string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "save [FILE|-]",
		Short: "Split a bundle by referenced image and save each group",
		Long: `Reads a payload of any shape accepted by "bundle unwrap", keeps the
persistable tools that match --filter and writes one record per referenced
image. With --image, an input without annotations clears that image.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if filter == "" {
				filter = opts.cfg.Viewer.Filter
			}
			pred, err := persistence.CompileFilter(filter)
			if err != nil {
				return err
			}
			if len(tools) == 0 {
				tools = opts.cfg.Viewer.PersistableTools
			}

			// stage the input in a headless store so export sees it the way a
			// viewer would
			eng := engine.New(engine.WithLogger(opts.logger))
			for _, a := range annotations.UnwrapRaw(raw).Objects {
				if err := eng.Add(a, ""); err != nil {
					opts.logger.Warn("skipping annotation", "uid", a.UID, "error", err)
				}
			}

			svc := &persistence.Service{Kinds: tools, Logger: opts.logger}
			list := svc.ExportForSave(eng, pred)
			if image != "" {
				image = imageid.EnsureScheme(image, opts.scheme)
			}
			if dryRun {
				groups := svc.GroupByImage(list)
				for _, id := range groups.Keys() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", id, len(groups[id]))
				}
				return nil
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			svc.Backend = client
			n, err := svc.SaveCurrent(cmd.Context(), list, image)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %d annotations to %d images\n", len(list), n)
			return err
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", `expr filter over tool, image, surface, group, uid (e.g. image contains "/images/153")`)
	cmd.Flags().StringVar(&image, "image", "", "image identifier written with an empty bundle when nothing is exported")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "persistable tool names (default ArrowAnnotate)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the per-image groups without saving")
	return cmd
}
