package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/jobs"
	"diskwatch/internal/watcher"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [directory]",
		Short: "Watch a mounted volume for live changes until interrupted",
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
				job, err := tracker.Start(cmd.Context(), catalog.JobTypeWatch, id.VolumeID, id.Directory)
				if err != nil {
					if errors.Is(err, catalog.ErrJobConflict) {
						return fmt.Errorf("a watch is already active for volume %s", id.VolumeID)
					}
					return err
				}

				sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (volume %s)\n", id.Directory, id.VolumeID)
				w := watcher.New(store, tracker, logger)
				if err := w.Run(sigCtx, job); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
}
