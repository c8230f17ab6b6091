package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"medialib/internal/ingest"
	"medialib/internal/manifest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var name string
	var typeFlag string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ingest PATH...",
		Short: "Add local files or folders to the library",
		Long: "Add files to the library. Extensions pick the category: .wav sound, .jpg backdrop,\n" +
			".png/.svg costume, .sprite2 sprite bundle. Folders are ingested file by file.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := parseCategoryFlag(typeFlag)
			if err != nil {
				return err
			}
			if name != "" && len(args) > 1 {
				return errors.New("--name can only be used with a single file")
			}
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			ing, err := ingest.FromConfig(cfg, logger)
			if err != nil {
				return err
			}

			var records []manifest.Record
			var failures []ingest.Failure
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					failures = append(failures, ingest.Failure{Path: path, Err: err})
					continue
				}
				if info.IsDir() {
					batch, err := ing.IngestDir(cmd.Context(), path, category)
					records = append(records, batch.Records...)
					failures = append(failures, batch.Failures...)
					if err != nil {
						return err
					}
					continue
				}
				rec, err := ing.Ingest(cmd.Context(), ingest.Request{Path: path, Name: name, Category: category})
				if err != nil {
					if errors.Is(err, manifest.ErrCorrupt) || errors.Is(err, manifest.ErrMissing) || cmd.Context().Err() != nil {
						return err
					}
					failures = append(failures, ingest.Failure{Path: path, Err: err})
					continue
				}
				records = append(records, rec)
			}

			if wantJSON(cmd, jsonOut) {
				if err := writeJSON(cmd, viewRecords(records)); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, rec := range records {
					fmt.Fprintf(out, "%-8s %-32s %s\n", rec.Category, rec.Key, rec.Name)
				}
			}
			for _, f := range failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s: %v\n", f.Path, f.Err)
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d of %d inputs failed", len(failures), len(records)+len(failures))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name (defaults to the file name)")
	cmd.Flags().StringVarP(&typeFlag, "type", "t", "auto", "Force a category: auto, backdrop, costume, sound, sprite")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
