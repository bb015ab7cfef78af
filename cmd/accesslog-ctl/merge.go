package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpdrive/accesslog/pkg/ingest"
)

type mergeOptions struct {
	FirstRead bool
	Local     bool
}

func newMergeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &mergeOptions{}
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Fold new CSV exports into the job-access table",
		Long: `Compare the available CSV exports against the ingestion ledger,
normalize and deduplicate the new ones, merge them with the baseline table
and persist the result. With no new exports nothing is written.`,
		Example: `  accesslog-ctl merge --config /etc/accesslog/config.yaml
  accesslog-ctl merge --first-read
  accesslog-ctl merge --local`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, rootOpts, *opts)
		},
	}
	cmd.Flags().BoolVar(&opts.FirstRead, "first-read", false, "ignore any baseline and ingest every export")
	cmd.Flags().BoolVar(&opts.Local, "local", false, "skip the source listing and serve the persisted table")
	return cmd
}

func runMerge(cmd *cobra.Command, rootOpts *rootOptions, opts mergeOptions) error {
	cfg, err := requireConfig(rootOpts)
	if err != nil {
		return err
	}
	defer writeMetrics(cfg)

	st, err := openStack(cmd.Context(), cfg, !opts.Local)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := st.engine(cfg)
	if err != nil {
		return err
	}
	res, err := eng.Run(cmd.Context(), ingest.RunConfig{FirstRead: opts.FirstRead, LocalExecution: opts.Local})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Merge")
	fmt.Fprintln(out, "────────────────────────────────────")
	fmt.Fprintf(out, "New sources:      %d\n", len(res.NewSources))
	for _, id := range res.NewSources {
		fmt.Fprintf(out, "  - %s\n", id)
	}
	fmt.Fprintf(out, "Rows read:        %d\n", res.RowsRead)
	fmt.Fprintf(out, "Batch duplicates: %d\n", res.IntraBatchDuplicates)
	fmt.Fprintf(out, "Key violations:   %d\n", res.Violations)
	fmt.Fprintf(out, "Rows added:       %d\n", res.RowsAdded)
	fmt.Fprintf(out, "Table rows:       %d\n", len(res.Table))
	fmt.Fprintf(out, "Persisted:        %v\n", res.Persisted)
	return nil
}
