package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gamerequest/gamerequest-server/internal/di/providers"
	"github.com/gamerequest/gamerequest-server/internal/domain"
)

func newRequestsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Request statistics and index maintenance",
	}
	cmd.AddCommand(newRequestsStatsCommand(ctx))
	cmd.AddCommand(newRequestsReindexCommand(ctx))
	return cmd
}

func newRequestsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count requests by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store()
			if err != nil {
				return err
			}
			counts, err := st.CountRequestsByStatus(cmd.Context())
			if err != nil {
				return err
			}
			imports, err := st.ImportStats(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(domain.AllStatuses)+1)
			for _, s := range domain.AllStatuses {
				rows = append(rows, []string{string(s), strconv.Itoa(counts[s])})
			}
			rows = append(rows, []string{"total", strconv.Itoa(counts.Total())})

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Status", "Requests"}, rows, []columnAlignment{alignLeft, alignRight}))
			last := "never"
			if imports.LastImportAt != nil {
				last = imports.LastImportAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(out, "Imported games: %d (last import: %s)\n", imports.TotalImported, last)
			return nil
		},
	}
}

func newRequestsReindexCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the request name index from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store()
			if err != nil {
				return err
			}
			index, err := invoke[*providers.SearchIndexHandle](ctx)
			if err != nil {
				return err
			}
			n, err := index.Reindex(cmd.Context(), st)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d requests\n", n)
			return nil
		},
	}
}
