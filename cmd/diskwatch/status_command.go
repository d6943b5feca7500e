package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-volume event and usage summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				summaries, err := store.SummarizeByVolume(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Catalog: %s\n", store.Path())
				if err := store.CheckSchema(); err != nil {
					fmt.Fprintf(out, "Schema: %v\n", err)
				} else {
					fmt.Fprintln(out, "Schema: up to date")
				}
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No events recorded yet.")
					return nil
				}

				headers := []string{"Volume", "Directory", "Events", "Created", "Modified", "Deleted", "Last Seen", "Used", "Free"}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					rows = append(rows, []string{
						s.VolumeID,
						s.Directory,
						strconv.FormatInt(s.Total, 10),
						strconv.FormatInt(s.Created, 10),
						strconv.FormatInt(s.Modified, 10),
						strconv.FormatInt(s.Deleted, 10),
						formatTimestamp(s.LastSeen),
						formatBytes(s.Usage.UsedBytes),
						formatBytes(s.Usage.FreeBytes),
					})
				}
				aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignRight, alignRight}
				fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
				return nil
			})
		},
	}
}
