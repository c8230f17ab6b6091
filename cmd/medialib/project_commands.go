package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"medialib/internal/fileutil"
	"medialib/internal/projects"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	var user string

	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Save and load user project files",
	}
	projectCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Project owner")
	_ = projectCmd.MarkPersistentFlagRequired("user")

	open := func() (*projects.Store, error) {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		return projects.New(cfg.Paths.ProjectDir)
	}

	projectCmd.AddCommand(newProjectSaveCommand(open, &user))
	projectCmd.AddCommand(newProjectLoadCommand(open, &user))
	projectCmd.AddCommand(newProjectListCommand(open, &user))
	return projectCmd
}

type projectOpener func() (*projects.Store, error)

func newProjectSaveCommand(open projectOpener, user *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "save FILE",
		Short: "Store a project file for the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read project: %w", err)
			}
			filename := name
			if filename == "" {
				filename = filepath.Base(args[0])
			}
			p, err := store.Save(*user, filename, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", p.Path, p.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Stored file name (defaults to the source name)")
	return cmd
}

func newProjectLoadCommand(open projectOpener, user *string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Write the user's most recent project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			p, data, err := store.Load(*user)
			if err != nil {
				if errors.Is(err, projects.ErrNotFound) {
					return fmt.Errorf("no project saved for %q and no %s present", *user, projects.DefaultProject)
				}
				return err
			}
			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := fileutil.WriteFileAtomic(output, data, 0o644); err != nil {
				return fmt.Errorf("write project: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Loaded %s into %s\n", p.Filename, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default stdout)")
	return cmd
}

func newProjectListCommand(open projectOpener, user *string) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the user's projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			list, err := store.List(*user)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				type view struct {
					Filename string    `json:"filename"`
					Size     int64     `json:"size"`
					Modified time.Time `json:"modified"`
				}
				views := make([]view, 0, len(list))
				for _, p := range list {
					views = append(views, view{Filename: p.Filename, Size: p.Size, Modified: p.Modified.UTC()})
				}
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(list))
			for _, p := range list {
				rows = append(rows, []string{p.Filename, strconv.FormatInt(p.Size, 10), p.Modified.Format(time.RFC3339)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"File", "Bytes", "Modified"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
