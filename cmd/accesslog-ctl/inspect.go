package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/warpdrive/accesslog/pkg/dedup"
	"github.com/warpdrive/accesslog/pkg/namespace"
	"github.com/warpdrive/accesslog/pkg/record"
)

var categories = namespace.NewClassifier(map[string]string{
	"data": namespace.RootData,
	"mc":   namespace.RootMC,
	"user": namespace.RootUser,
})

// maxRepeatedKeys bounds the repeated-key listing.
const maxRepeatedKeys = 10

type inspectOptions struct {
	Format string
	Limit  int
}

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the persisted job-access table and ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.Format {
			case "table", "csv":
			default:
				return fmt.Errorf("invalid format %q: must be table or csv", opts.Format)
			}
			return runInspect(cmd, rootOpts, *opts)
		},
	}
	cmd.Flags().StringVar(&opts.Format, "format", "table", "output format (table|csv)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "rows to print in csv format (0 = all)")
	return cmd
}

func runInspect(cmd *cobra.Command, rootOpts *rootOptions, opts inspectOptions) error {
	cfg, err := requireConfig(rootOpts)
	if err != nil {
		return err
	}
	st, err := openStack(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := st.engine(cfg)
	if err != nil {
		return err
	}
	ledger, err := eng.Ledger(cmd.Context())
	if err != nil {
		return err
	}
	table, err := eng.Baseline(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Format == "csv" {
		return writeTableCSV(out, table, opts.Limit)
	}

	byRoot := map[string]int{}
	byCategory := map[string]int{}
	for _, e := range table {
		byRoot[e.NamespaceRoot]++
		c := categories.Classify(e.FilePath)
		if c == "" {
			c = "other"
		}
		byCategory[c]++
	}
	roots := make([]string, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Strings(roots)

	fmt.Fprintln(out, "Job-access table")
	fmt.Fprintln(out, "────────────────────────────────────")
	fmt.Fprintf(out, "Sources ingested: %d\n", ledger.Len())
	fmt.Fprintf(out, "Rows:             %d\n", len(table))
	fmt.Fprintf(out, "Key violations:   %d\n", dedup.Violations(table))
	fmt.Fprintf(out, "Categories:       data=%d mc=%d user=%d other=%d\n",
		byCategory["data"], byCategory["mc"], byCategory["user"], byCategory["other"])
	if len(table) > 0 {
		fmt.Fprintf(out, "First day:        %s\n", table[0].Day)
		fmt.Fprintf(out, "Last day:         %s\n", table[len(table)-1].Day)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-30s %10s\n", "ROOT", "ROWS")
	for _, r := range roots {
		fmt.Fprintf(out, "%-30s %10d\n", r, byRoot[r])
	}

	if groups := dedup.Groups(table); len(groups) > 0 {
		keys := make([]record.Key, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if groups[keys[i]] != groups[keys[j]] {
				return groups[keys[i]] > groups[keys[j]]
			}
			if keys[i].Timestamp != keys[j].Timestamp {
				return keys[i].Timestamp < keys[j].Timestamp
			}
			return keys[i].FilePath < keys[j].FilePath
		})
		if len(keys) > maxRepeatedKeys {
			keys = keys[:maxRepeatedKeys]
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%-12s %-40s %6s\n", "TIMESTAMP", "FILE", "COUNT")
		for _, k := range keys {
			fmt.Fprintf(out, "%-12d %-40s %6d\n", k.Timestamp, k.FilePath, groups[k])
		}
	}
	return nil
}

// writeTableCSV writes the header and up to limit rows (0 = all).
func writeTableCSV(out io.Writer, table []record.Event, limit int) error {
	w := csv.NewWriter(out)
	header := append(append([]string{}, record.Columns...), record.CategoryColumn, "day", "root")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("inspect: write csv: %w", err)
	}
	for i, e := range table {
		if limit > 0 && i >= limit {
			break
		}
		if err := w.Write(csvRow(e)); err != nil {
			return fmt.Errorf("inspect: write csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("inspect: write csv: %w", err)
	}
	return nil
}

func csvRow(e record.Event) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		strconv.FormatInt(e.Timestamp, 10), e.JobID, e.FilePath, f(e.SizeBytes),
		e.ExecSite, e.OpenSite, f(e.CPUEfficiency), f(e.CPUTime), f(e.WallTime),
		e.Category, e.Day, e.NamespaceRoot,
	}
}
