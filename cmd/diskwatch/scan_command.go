package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/jobs"
	"diskwatch/internal/scanner"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [directory]",
		Short: "Catalog every file on a mounted volume",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				logger, err := newRunLogger(cfg)
				if err != nil {
					return err
				}

				arg := ""
				if len(args) > 0 {
					arg = args[0]
				}
				id, err := resolveTarget(cmd.Context(), cfg, store, logger, arg)
				if err != nil {
					return err
				}

				tracker := jobs.NewTracker(store, logger)
				job, err := tracker.Start(cmd.Context(), catalog.JobTypeScan, id.VolumeID, id.Directory)
				if err != nil {
					if errors.Is(err, catalog.ErrJobConflict) {
						return fmt.Errorf("a scan is already active for volume %s", id.VolumeID)
					}
					return err
				}

				scan := scanner.New(cfg, store, tracker, logger)
				if err := scan.Run(cmd.Context(), job); err != nil {
					return err
				}

				finished, err := store.GetJob(cmd.Context(), job.JobID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scanned %s (volume %s)\n", id.Directory, id.VolumeID)
				if finished.Progress != nil {
					fmt.Fprintf(out, "Files processed: %d\n", finished.Progress.FilesProcessed)
				}
				return nil
			})
		},
	}
}
