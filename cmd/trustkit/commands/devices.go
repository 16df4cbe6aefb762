package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"trustkit/internal/domain"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices [user-id]",
		Short: "List the devices of a user, verified first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := wire.Provider.UserID()
			if len(args) == 1 {
				userID = domain.UserID(args[0])
			}
			list, err := appCtx.Verification.ListDevices(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			own := wire.Provider.DeviceID()
			show := func(title string, devices []domain.DeviceInfo) {
				fmt.Fprintf(out, "%s (%d)\n", title, len(devices))
				for _, d := range devices {
					marker := ""
					if d.UserID == wire.Provider.UserID() && d.DeviceID == own {
						marker = " (this device)"
					}
					fmt.Fprintf(out, "  %-12s %s%s\n", d.DeviceID, d.DisplayName, marker)
				}
			}
			show("Verified", list.Verified)
			show("Unverified", list.Unverified)
			return nil
		},
	}
}
