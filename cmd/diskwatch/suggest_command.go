package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"diskwatch/internal/discovery"
)

func newSuggestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest",
		Short: "Inspect the mount table and suggest directories to monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			suggested := discovery.Suggest(cfg.Discovery.Roots)
			out := cmd.OutOrStdout()
			if len(suggested) == 0 {
				fmt.Fprintln(out, "No suitable directories found.")
				return nil
			}
			fmt.Fprintln(out, "Suggested directories to monitor:")
			for _, dir := range suggested {
				fmt.Fprintf(out, "  - %s\n", dir)
			}
			return nil
		},
	}
}
