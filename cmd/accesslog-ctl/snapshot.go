package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCommand(rootOpts *rootOptions) *cobra.Command {
	var firstRead bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Compute or show the percentage-downloaded snapshot",
		Long: `With --first-read, parse the percentage log, persist the per-category
distributions and print them. Otherwise print the persisted snapshot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig(rootOpts)
			if err != nil {
				return err
			}
			defer writeMetrics(cfg)

			st, err := openStack(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer st.Close()

			c, closeSrc, err := st.snapshotCache(cmd.Context(), cfg, firstRead)
			if err != nil {
				return err
			}
			defer closeSrc()

			p, err := c.Get(cmd.Context(), firstRead)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %8s %8s %8s\n", "TYPE", "COUNT", "MEAN", "MEDIAN")
			for _, row := range []struct {
				name string
				v    []float64
			}{{"data", p.Data}, {"mc", p.MC}, {"user", p.User}} {
				fmt.Fprintf(out, "%-6s %8d %8.3f %8.3f\n", row.name, len(row.v), mean(row.v), median(row.v))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&firstRead, "first-read", false, "recompute the snapshot from the percentage log")
	return cmd
}
