package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/daemon"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the cataloging daemon",
		Long: "Run the daemon: discover mounted volumes beneath the configured roots,\n" +
			"scan them into the catalog, and watch them for live changes until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				logger, err := newRunLogger(cfg)
				if err != nil {
					return err
				}

				d, err := daemon.New(cfg, store, logger)
				if err != nil {
					return err
				}

				sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if err := d.Start(sigCtx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "diskwatch daemon running (catalog %s)\n", store.Path())

				<-sigCtx.Done()
				d.Stop()
				fmt.Fprintln(cmd.OutOrStdout(), "diskwatch daemon stopped")
				return nil
			})
		},
	}
}
