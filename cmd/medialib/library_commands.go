package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"medialib/internal/assetstore"
	"medialib/internal/contentaddr"
	"medialib/internal/manifest"
	"medialib/internal/sprite"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Inspect and maintain the manifests",
	}
	libraryCmd.AddCommand(newLibraryListCommand(ctx))
	libraryCmd.AddCommand(newLibraryVerifyCommand(ctx))
	libraryCmd.AddCommand(newLibraryInitCommand(ctx))
	return libraryCmd
}

func newLibraryListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list CATEGORY",
		Short: "List the records of one manifest, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, err := manifest.ParseCategory(args[0])
			if err != nil {
				return err
			}
			store, err := ctx.manifests()
			if err != nil {
				return err
			}
			records, err := store.Load(category)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, viewRecords(records))
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s records\n", category)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Key", "Tags", "Info"},
				recordRows(records),
				nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

type missingAsset struct {
	Category string `json:"category"`
	Record   string `json:"record"`
	Key      string `json:"key"`
	Reason   string `json:"reason"`
}

type libraryReport struct {
	Checked int            `json:"checked"`
	Missing []missingAsset `json:"missing"`
	// Orphans are stored blobs no record or sprite descriptor refers to.
	Orphans []string `json:"orphans"`
}

func newLibraryVerifyCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Report records whose blobs are not stored, and unreferenced blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.setup()
			if err != nil {
				return err
			}
			store, err := ctx.manifests()
			if err != nil {
				return err
			}
			assets, err := assetstore.New(cfg.Paths.AssetDir)
			if err != nil {
				return err
			}
			report, err := verifyLibrary(store, assets)
			if err != nil {
				return err
			}

			if wantJSON(cmd, jsonOut) {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checked %d records\n", report.Checked)
				if len(report.Missing) > 0 {
					rows := make([][]string, 0, len(report.Missing))
					for _, m := range report.Missing {
						rows = append(rows, []string{m.Category, m.Record, m.Key, m.Reason})
					}
					fmt.Fprintln(out, renderTable([]string{"Category", "Record", "Key", "Reason"}, rows, nil))
				}
				if len(report.Orphans) > 0 {
					fmt.Fprintf(out, "%d unreferenced blob(s):\n", len(report.Orphans))
					for _, key := range report.Orphans {
						fmt.Fprintf(out, "  %s\n", key)
					}
				}
			}
			if len(report.Missing) > 0 {
				return fmt.Errorf("%d referenced asset(s) missing", len(report.Missing))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func verifyLibrary(store *manifest.Store, assets *assetstore.Store) (libraryReport, error) {
	report := libraryReport{Missing: []missingAsset{}, Orphans: []string{}}
	referenced := make(map[contentaddr.Key]struct{})
	for _, c := range manifest.Categories {
		records, err := store.Load(c)
		if err != nil {
			return libraryReport{}, err
		}
		for _, rec := range records {
			report.Checked++
			referenced[rec.Key] = struct{}{}
			ok, err := assets.Exists(rec.Key)
			if err != nil {
				return libraryReport{}, err
			}
			if !ok {
				report.Missing = append(report.Missing, missingAsset{Category: c.String(), Record: rec.Name, Key: rec.Key.String(), Reason: "blob not stored"})
				continue
			}
			if c != manifest.Sprite {
				continue
			}
			data, err := assets.Get(rec.Key)
			if err != nil {
				return libraryReport{}, err
			}
			res, err := sprite.Resolve(data)
			if err != nil {
				report.Missing = append(report.Missing, missingAsset{Category: c.String(), Record: rec.Name, Key: rec.Key.String(), Reason: "malformed descriptor"})
				continue
			}
			for _, ref := range res.Refs {
				referenced[ref.Key] = struct{}{}
				ok, err := assets.Exists(ref.Key)
				if err != nil {
					return libraryReport{}, err
				}
				if !ok {
					report.Missing = append(report.Missing, missingAsset{Category: ref.Category.String(), Record: rec.Name, Key: ref.Key.String(), Reason: "sprite reference not stored"})
				}
			}
		}
	}

	stored, err := assets.Keys()
	if err != nil {
		return libraryReport{}, err
	}
	for _, key := range stored {
		if _, ok := referenced[key]; !ok {
			report.Orphans = append(report.Orphans, key.String())
		}
	}
	slices.Sort(report.Orphans)
	return report, nil
}

func newLibraryInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create empty manifests for categories that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.manifests()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range manifest.Categories {
				created, err := store.Init(c)
				if err != nil {
					return err
				}
				path, _ := store.Path(c)
				state := "exists"
				if created {
					state = "created"
				}
				fmt.Fprintf(out, "%-8s %-7s %s\n", c, state, path)
			}
			return nil
		},
	}
}
