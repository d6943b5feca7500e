package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var volumeID string
	var summarize bool

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Show cataloged files or aggregated file activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				out := cmd.OutOrStdout()

				if summarize {
					activity, err := store.SummarizeFiles(cmd.Context(), limit)
					if err != nil {
						return err
					}
					if len(activity) == 0 {
						fmt.Fprintln(out, "No file activity recorded yet.")
						return nil
					}
					headers := []string{"Path", "Volume", "Events", "First Seen", "Last Seen", "Last Event"}
					rows := make([][]string, 0, len(activity))
					for _, a := range activity {
						rows = append(rows, []string{
							a.Path,
							a.VolumeID,
							strconv.FormatInt(a.TotalEvents, 10),
							formatTimestamp(a.FirstSeen),
							formatTimestamp(a.LastSeen),
							string(a.LastEventType),
						})
					}
					aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}
					fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
					return nil
				}

				files, err := store.ListFiles(cmd.Context(), volumeID, limit)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(out, "No files cataloged yet.")
					return nil
				}
				headers := []string{"Path", "Volume", "Size", "Modified", "Last Event", "State"}
				rows := make([][]string, 0, len(files))
				for _, f := range files {
					state := "present"
					if f.IsDeleted {
						state = "deleted"
					}
					rows = append(rows, []string{
						f.Path,
						f.VolumeID,
						formatBytes(f.SizeBytes),
						formatTimestamp(f.ModifiedTime),
						string(f.LastEventType),
						state,
					})
				}
				aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of rows to show")
	cmd.Flags().StringVar(&volumeID, "volume", "", "Only show files on this volume id")
	cmd.Flags().BoolVar(&summarize, "summary", false, "Aggregate event activity per file instead of listing rows")
	return cmd
}
