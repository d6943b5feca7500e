package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"diskwatch/internal/catalog"
	"diskwatch/internal/config"
	"diskwatch/internal/identity"
)

func newVolumesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "volumes",
		Short: "Show tracked volumes with identity and usage details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *catalog.Store) error {
				volumes, err := store.FetchVolumes(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(volumes) == 0 {
					fmt.Fprintln(out, "No volumes tracked yet.")
					return nil
				}

				headers := []string{"#", "ID", "Label", "Device", "Directory", "Events", "Total", "Free", "Volume ID"}
				rows := make([][]string, 0, len(volumes))
				for i, v := range volumes {
					humanID := identity.HumanID(
						v.Identity.PartUUID,
						v.Identity.PTUUID,
						v.Identity.MountUUID,
						v.VolumeID,
					)
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						orDash(humanID),
						orDash(v.Identity.MountLabel),
						orDash(v.Identity.MountDevice),
						v.Directory,
						strconv.FormatInt(v.EventCount, 10),
						formatBytes(v.Usage.TotalBytes),
						formatBytes(v.Usage.FreeBytes),
						v.VolumeID,
					})
				}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}
				fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
				return nil
			})
		},
	}
}
