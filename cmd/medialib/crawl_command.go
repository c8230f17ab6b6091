package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"medialib/internal/assetstore"
	"medialib/internal/contentaddr"
	"medialib/internal/crawl"
	"medialib/internal/crawlhistory"
	"medialib/internal/fileutil"
	"medialib/internal/logging"
	"medialib/internal/manifest"
)

type crawlSummary struct {
	RunID      string        `json:"run_id"`
	Fetched    []string      `json:"fetched"`
	Skipped    int           `json:"skipped"`
	Planned    []string      `json:"planned,omitempty"`
	Duplicates int           `json:"duplicates"`
	Failed     []failureView `json:"failed"`
}

type failureView struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

func newCrawlCommand(ctx *commandContext) *cobra.Command {
	var categories []string
	var manifestURLs []string
	var origin string
	var workers int
	var pretend bool
	var saveRemote bool
	var metricsFile string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Mirror library assets from the remote origin",
		Long: "Fetch every blob referenced by the selected manifests that is not stored locally,\n" +
			"including the costumes and sounds of sprite descriptors.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			opts, err := crawl.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}
			opts.Logger = logger
			opts.Pretend = pretend
			if origin != "" {
				opts.Origin = origin
			}
			if workers > 0 {
				opts.Workers = workers
			}
			if metricsFile == "" {
				metricsFile = cfg.Crawl.MetricsFile
			}
			if metricsFile != "" {
				opts.Metrics = crawl.NewMetrics()
			}
			if cfg.Crawl.PersistHistory && !pretend {
				history, err := crawlhistory.Open(cfg.HistoryPath())
				if err != nil {
					return err
				}
				defer history.Close()
				opts.History = history
			}

			assets, err := assetstore.New(cfg.Paths.AssetDir)
			if err != nil {
				return err
			}
			crawler, err := crawl.New(assets, opts)
			if err != nil {
				return err
			}

			urls := manifestURLs
			if len(urls) == 0 && len(categories) == 0 {
				urls = cfg.Crawl.RemoteManifests
			}
			var entries []crawl.Entry
			for _, u := range urls {
				remote, err := crawler.FetchManifest(cmd.Context(), u)
				if err != nil {
					return err
				}
				if saveRemote {
					name := remote.Name
					if name == "." || name == "/" {
						name = "manifest.json"
					}
					dest := filepath.Join(cfg.Paths.StateDir, "remote", name)
					if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
						return err
					}
					if err := fileutil.WriteFileAtomic(dest, remote.Raw, 0o644); err != nil {
						return fmt.Errorf("save remote manifest: %w", err)
					}
				}
				entries = append(entries, crawl.EntriesFromRecords(remote.Records)...)
			}

			selected, err := selectCategories(categories, len(manifestURLs) > 0)
			if err != nil {
				return err
			}
			if len(selected) > 0 {
				store, err := manifest.FromConfig(cfg, logger)
				if err != nil {
					return err
				}
				for _, c := range selected {
					records, err := store.Load(c)
					if err != nil {
						return err
					}
					entries = append(entries, crawl.EntriesFromRecords(records)...)
				}
			}

			result, runErr := crawler.Crawl(cmd.Context(), entries, nil)
			if opts.Metrics != nil {
				if err := opts.Metrics.WriteTextfile(metricsFile); err != nil {
					logging.WarnWithContext(logger, "crawl metrics not written", "crawl_metrics",
						logging.String("path", metricsFile),
						logging.Error(err),
						logging.String(logging.FieldImpact, "metrics file keeps the previous run"),
					)
				}
			}
			if err := printCrawlResult(cmd, result, wantJSON(cmd, jsonOut)); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if result.Failures() {
				logging.ErrorWithContext(logger, "crawl incomplete", "crawl_incomplete",
					logging.Int("failed", len(result.Failed)),
					logging.String(logging.FieldErrorHint, "rerun the crawl to retry failed keys"),
				)
				return fmt.Errorf("%d asset(s) could not be fetched", len(result.Failed))
			}
			return nil
		},
	}

	cmd.AddCommand(newCrawlForgetCommand(ctx))
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Local manifests to crawl (default: all, unless --manifest-url is given)")
	cmd.Flags().StringSliceVar(&manifestURLs, "manifest-url", nil, "Remote library index to crawl (repeatable)")
	cmd.Flags().StringVar(&origin, "origin", "", "Override the asset origin URL")
	cmd.Flags().IntVar(&workers, "workers", 0, "Override the number of concurrent fetches")
	cmd.Flags().BoolVarP(&pretend, "pretend", "p", false, "List what would be fetched without downloading")
	cmd.Flags().BoolVar(&saveRemote, "save-remote", false, "Keep fetched remote manifests under the state directory")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newCrawlForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget KEY...",
		Short: "Let later crawls request keys the origin reported missing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.setup()
			if err != nil {
				return err
			}
			history, err := crawlhistory.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer history.Close()
			out := cmd.OutOrStdout()
			for _, arg := range args {
				key, err := contentaddr.ParseKey(arg)
				if err != nil {
					return err
				}
				n, err := history.Forget(cmd.Context(), key.String())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d entr%s removed\n", key, n, plural(n, "y", "ies"))
			}
			return nil
		},
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// selectCategories resolves --category values. With no values, every local
// manifest is crawled unless remote manifests were requested explicitly.
func selectCategories(values []string, remoteOnly bool) ([]manifest.Category, error) {
	if len(values) == 0 {
		if remoteOnly {
			return nil, nil
		}
		return manifest.Categories, nil
	}
	out := make([]manifest.Category, 0, len(values))
	for _, v := range values {
		c, err := manifest.ParseCategory(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func printCrawlResult(cmd *cobra.Command, result crawl.Result, asJSON bool) error {
	summary := crawlSummary{
		RunID:      result.RunID,
		Fetched:    result.Fetched,
		Skipped:    len(result.Skipped),
		Planned:    result.Planned,
		Duplicates: result.Duplicates,
		Failed:     make([]failureView, 0, len(result.Failed)),
	}
	if summary.Fetched == nil {
		summary.Fetched = []string{}
	}
	for _, f := range result.Failed {
		summary.Failed = append(summary.Failed, failureView{Key: f.Key, Error: f.Err.Error()})
	}
	if asJSON {
		return writeJSON(cmd, summary)
	}

	out := cmd.OutOrStdout()
	for _, key := range result.Planned {
		fmt.Fprintf(out, "would fetch %s\n", key)
	}
	rows := [][]string{
		{"Fetched", strconv.Itoa(len(result.Fetched))},
		{"Skipped", strconv.Itoa(len(result.Skipped))},
		{"Duplicates", strconv.Itoa(result.Duplicates)},
		{"Failed", strconv.Itoa(len(result.Failed))},
	}
	if len(result.Planned) > 0 {
		rows = append(rows, []string{"Planned", strconv.Itoa(len(result.Planned))})
	}
	fmt.Fprintln(out, renderTable([]string{"Result", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	if len(summary.Failed) > 0 {
		failRows := make([][]string, 0, len(summary.Failed))
		for _, f := range summary.Failed {
			failRows = append(failRows, []string{f.Key, f.Error})
		}
		fmt.Fprintln(out, renderTable([]string{"Key", "Error"}, failRows, nil))
	}
	return nil
}
