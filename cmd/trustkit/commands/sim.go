package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"trustkit/internal/domain"
)

func simCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Drive the simulated homeserver and partner devices",
	}
	cmd.AddCommand(simAddDeviceCmd(), simSessionsCmd(), simPartnerBackupCmd())
	return cmd
}

func simAddDeviceCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add-device <user-id> <device-id>",
		Short: "Publish a simulated partner device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Provider.AddPartnerDevice(domain.UserID(args[0]), domain.DeviceID(args[1]), name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Device %s of %s added.\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func simSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <n>",
		Short: "Create n new group sessions on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			if _, err := wire.Provider.AddSessions(n); err != nil {
				return err
			}
			wire.Provider.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d sessions held on this device.\n", wire.Provider.SessionCount())
			return nil
		},
	}
}

func simPartnerBackupCmd() *cobra.Command {
	var (
		sessions   int
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "partner-backup <device-id>",
		Short: "Replace the server backup with one created by a partner device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := wire.Provider.PartnerCreateBackup(cmd.Context(), domain.DeviceID(args[0]), passphrase, sessions)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup version %s created by %s.\nRecovery key: %s\n", info.BackupVersion, args[0], info.RecoveryKey)
			return nil
		},
	}
	cmd.Flags().IntVar(&sessions, "sessions", 10, "number of sessions in the backup")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "derive the recovery key from this passphrase")
	return cmd
}
