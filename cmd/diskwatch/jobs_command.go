package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show scan and watch jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]catalog.JobStatus, 0, len(statusFilters))
			for _, raw := range statusFilters {
				status := catalog.JobStatus(raw)
				switch status {
				case catalog.JobPending, catalog.JobRunning, catalog.JobCompleted, catalog.JobFailed, catalog.JobStopped:
					statuses = append(statuses, status)
				default:
					return fmt.Errorf("unknown job status %q", raw)
				}
			}

			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				jobList, err := store.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobList) == 0 {
					fmt.Fprintln(out, "No jobs recorded.")
					return nil
				}

				headers := []string{"Job", "Type", "Status", "Volume", "Path", "Files", "Started", "Updated", "Error"}
				rows := make([][]string, 0, len(jobList))
				for _, job := range jobList {
					files := "-"
					if job.Progress != nil {
						files = strconv.FormatInt(job.Progress.FilesProcessed, 10)
					}
					rows = append(rows, []string{
						shortJobID(job.JobID),
						string(job.Type),
						string(job.Status),
						job.VolumeID,
						job.Path,
						files,
						formatTimestamp(job.StartedAt),
						formatTimestamp(job.UpdatedAt),
						orDash(job.ErrorMessage),
					})
				}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (pending, running, completed, failed, stopped)")
	return cmd
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
