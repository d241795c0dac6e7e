package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waqasraza123/deep-research-agent/internal/app"
	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/fetch"
	"github.com/waqasraza123/deep-research-agent/internal/logging"
)

func newFetchCmd(opts *globalOptions) *cobra.Command {
	var (
		maxSources  int
		maxLinks    int
		followLinks bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <run-id> <url>...",
		Short: "Fetch URLs into a run's source cache",
		Long: `Fetch each URL into runs/<run-id>/sources and print the tool result, one JSON
document per line. Limits are clamped to the configured ceilings.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			files, err := artifacts.New(cfg.RunsDir)
			if err != nil {
				return err
			}
			fetcher := fetch.NewFetcher(files, fetch.Options{
				MaxPageChars: cfg.MaxPageChars,
				Timeout:      cfg.HTTPTimeout,
				UserAgent:    cfg.FetchUserAgent,
				Logger:       logger,
			})
			limits := fetch.Limits{
				MaxSources:        maxSources,
				MaxLinksPerSource: maxLinks,
				FollowLinks:       followLinks,
			}.Clamp(app.Bounds(cfg))
			session, err := fetcher.Session(args[0], limits)
			if err != nil {
				return err
			}
			tool := fetch.NewTool(session)
			for _, rawURL := range args[1:] {
				fmt.Fprintln(cmd.OutOrStdout(), tool.Call(cmd.Context(), rawURL))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxSources, "max-sources", 3, "distinct sources this invocation may fetch")
	cmd.Flags().IntVar(&maxLinks, "max-links", 0, "links to extract per HTML source")
	cmd.Flags().BoolVar(&followLinks, "follow-links", false, "extract links from HTML sources")
	return cmd
}

func newArtifactsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "artifacts <run-id>",
		Short: "List the files of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := openFiles(opts)
			if err != nil {
				return err
			}
			entries, err := files.List(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			for _, entry := range entries {
				fmt.Fprintf(out, "%-48s %8d  %s\n", entry.Path, entry.SizeBytes, entry.ModTime().UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the listing as JSON")
	return cmd
}

func newReconcileCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <run-id>",
		Short: "Backfill a run's missing or invalid deliverables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := openFiles(opts)
			if err != nil {
				return err
			}
			warnings, err := files.Reconcile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(warnings) == 0 {
				fmt.Fprintln(out, "All required files present.")
				return nil
			}
			for _, warning := range warnings {
				fmt.Fprintln(out, warning)
			}
			return nil
		},
	}
}

func openFiles(opts *globalOptions) (*artifacts.Store, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	return artifacts.New(cfg.RunsDir)
}
