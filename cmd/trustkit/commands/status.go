package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the security level of this session",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sum := appCtx.Summary(cmd.Context())
			fmt.Fprintf(out, "User:        %s\n", wire.Provider.UserID())
			fmt.Fprintf(out, "Device:      %s\n", wire.Provider.DeviceID())
			fmt.Fprintf(out, "Fingerprint: %s\n", wire.Provider.Fingerprint())
			fmt.Fprintf(out, "Security:    %s\n", sum.Level)
			for _, r := range sum.Reasons {
				fmt.Fprintf(out, "  - %s\n", r)
			}
			return nil
		},
	}
}
