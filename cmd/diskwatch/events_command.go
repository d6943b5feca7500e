package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var sinceID int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent catalog events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				var (
					events []catalog.Event
					err    error
				)
				if sinceID > 0 {
					events, err = store.ListEventsSince(cmd.Context(), sinceID, limit)
				} else {
					events, err = store.ListRecentEvents(cmd.Context(), time.Time{}, limit)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(out, "No events recorded yet.")
					return nil
				}

				headers := []string{"ID", "Time", "Type", "Path", "Volume"}
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						formatTimestamp(e.Timestamp),
						string(e.Type),
						e.Path,
						e.VolumeID,
					})
				}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events to show")
	cmd.Flags().Int64Var(&sinceID, "since-id", 0, "Show events after this event id, oldest first")
	return cmd
}
