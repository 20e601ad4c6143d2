package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clarityhq/clarity/engine/domain"
)

func newBrandsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "brands",
		Short: "List stored brands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			brands, err := ctx.client().Brands(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, brands)
			}
			if len(brands) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No brands stored")
				return nil
			}
			rows := make([][]string, 0, len(brands))
			for _, b := range brands {
				rows = append(rows, []string{b.Name, b.LastUpdated.Local().Format(time.DateTime), strconv.Itoa(b.Batches)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
				{Title: "Brand"}, {Title: "Last updated"}, {Title: "Batches", Numeric: true},
			}, rows))
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <brand>",
		Short: "Show stored totals for a brand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := ctx.client().Stats(cmd.Context(), args[0])
			if err != nil {
				if isNotFound(err) {
					return fmt.Errorf("brand %q not found", args[0])
				}
				return err
			}
			if ctx.json {
				return writeJSON(cmd, stats)
			}

			srcs := make([]string, 0, len(stats.BySource))
			for src := range stats.BySource {
				srcs = append(srcs, string(src))
			}
			sort.Strings(srcs)
			rows := make([][]string, 0, len(srcs)+1)
			for _, src := range srcs {
				s := stats.BySource[domain.SourceType(src)]
				rows = append(rows, []string{src, strconv.Itoa(s.Count), strconv.FormatFloat(s.AverageScore, 'f', 3, 64)})
			}
			rows = append(rows, []string{"total", strconv.Itoa(stats.TotalEntries), strconv.FormatFloat(stats.AverageScore, 'f', 3, 64)})

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable([]column{
				{Title: "Source"}, {Title: "Entries", Numeric: true}, {Title: "Avg score", Numeric: true},
			}, rows))
			if stats.LatestDate != "" {
				fmt.Fprintf(out, "Latest entry: %s\n", stats.LatestDate)
			}
			return nil
		},
	}
}

func newLatestCommand(ctx *commandContext) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "latest <brand>",
		Short: "Show the most recently saved entries for a brand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := ctx.client().Latest(cmd.Context(), args[0], limit, offset)
			if err != nil {
				if isNotFound(err) {
					return fmt.Errorf("brand %q not found", args[0])
				}
				return err
			}
			if ctx.json {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Date,
					string(e.SourceType),
					strconv.FormatFloat(e.ReputationScore, 'f', 2, 64),
					truncate(e.Summary, 70),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
				{Title: "Date"}, {Title: "Source"}, {Title: "Score", Numeric: true}, {Title: "Summary"},
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")

	return cmd
}
