package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trustkit/internal/domain"
)

func loginCmd() *cobra.Command {
	var skip, reset bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Decide whether this session should ask for device verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			d := wire.Detector
			if reset {
				if err := d.Reset(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Login state reset.")
			}

			st, err := d.Detect(wire.Provider.DeviceID())
			if err != nil {
				return err
			}
			if at, ok := d.LastLoginAt(); ok {
				fmt.Fprintf(out, "Last login: %s\n", at.Local().Format(time.RFC1123))
			}
			fmt.Fprintf(out, "Device %s first seen %s\n", st.Device.DeviceID, st.Device.FirstSeenAt.Local().Format(time.RFC1123))

			switch st.Reason {
			case domain.PromptFirstLogin:
				fmt.Fprintln(out, "First login on this account: verify this device with `trustkit verify`.")
			case domain.PromptNewDevice:
				fmt.Fprintln(out, "New device: verify it with `trustkit verify` to read encrypted history.")
			case domain.PromptNone:
				fmt.Fprintln(out, "No verification needed.")
			}

			if st.ShouldPrompt() {
				if err := d.MarkPromptShown(); err != nil {
					return err
				}
				if skip {
					if err := d.RecordSkip(st.Device.DeviceID); err != nil {
						return err
					}
					fmt.Fprintln(out, "Verification skipped for now.")
				}
			}
			if st.IsFirstLogin {
				return d.CompleteFirstLogin()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skip, "skip", false, "record that verification was skipped")
	cmd.Flags().BoolVar(&reset, "reset", false, "forget the device registry and login flags first")
	return cmd
}
