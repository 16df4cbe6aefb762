package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"trustkit/internal/domain"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage the server-side key backup",
	}
	cmd.AddCommand(
		backupStatusCmd(),
		backupProgressCmd(),
		backupUploadCmd(),
		backupDeleteCmd(),
		backupCreateCmd(),
		backupRestoreCmd(),
	)
	return cmd
}

func backupStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current backup version and whether it is trusted",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := appCtx.Backup.GetStatus(cmd.Context())
			if !st.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "Key backup is not enabled.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version:   %s\nAlgorithm: %s\nKeys:      %d\nTrusted:   %t\n",
				st.Version, st.Algorithm, st.SessionCount, st.Trusted)
			return nil
		},
	}
}

func backupProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show how many keys still wait for upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := appCtx.Backup.GetBackupProgress(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d keys backed up, %d remaining\n", p.BackedUp, p.Total, p.Remaining)
			return nil
		},
	}
}

func backupUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Schedule every key for upload to the current backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Backup.BackupAllKeys(cmd.Context()); err != nil {
				return err
			}
			wire.Provider.Flush()
			p := appCtx.Backup.GetBackupProgress(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys backed up, %d remaining\n", p.BackedUp, p.Remaining)
			return nil
		},
	}
}

func backupDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the current backup version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm(cmd, "Delete the key backup? Keys not held on another device will be lost.")
				if err != nil || !ok {
					return err
				}
			}
			if err := appCtx.Backup.DeleteBackup(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Key backup deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func backupCreateCmd() *cobra.Command {
	var withPassphrase, asJSON bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new backup version and print the recovery key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				pass string
				err  error
			)
			if withPassphrase {
				if pass, err = readSecret(cmd, "Backup passphrase: "); err != nil {
					return err
				}
				again, err := readSecret(cmd, "Repeat passphrase: ")
				if err != nil {
					return err
				}
				if err := wire.Backup.ValidatePassphrase(pass, again); err != nil {
					return err
				}
			}

			var info domain.BackupRecoveryInfo
			if withPassphrase {
				info, err = appCtx.Backup.CreateBackupWithPassphrase(ctx, pass)
			} else {
				info, err = appCtx.Backup.CreateBackup(ctx)
			}
			if err != nil && info.RecoveryKey == "" {
				return err
			}
			wire.Provider.Flush()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Backup version %s is enabled but key upload failed: %v\n", info.BackupVersion, err)
			}
			if asJSON {
				if jerr := json.NewEncoder(cmd.OutOrStdout()).Encode(info); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup version %s created.\nRecovery key: %s\n", info.BackupVersion, info.RecoveryKey)
			fmt.Fprintln(cmd.OutOrStdout(), "Store the recovery key somewhere safe. It is not saved by trustkit.")
			return err
		},
	}
	cmd.Flags().BoolVar(&withPassphrase, "with-passphrase", false, "derive the recovery key from a passphrase")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the recovery info as JSON")
	return cmd
}

func backupRestoreCmd() *cobra.Command {
	var (
		recoveryKey    string
		withPassphrase bool
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Import keys from the current backup version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			if withPassphrase {
				pass, err := readSecret(cmd, "Backup passphrase: ")
				if err != nil {
					return err
				}
				return printRestore(cmd, func() (domain.RestoreResult, error) {
					return appCtx.Backup.RestoreFromPassphrase(ctx, pass)
				})
			}
			if recoveryKey == "" {
				if recoveryKey, err = readSecret(cmd, "Recovery key: "); err != nil {
					return err
				}
			}
			return printRestore(cmd, func() (domain.RestoreResult, error) {
				return appCtx.Backup.RestoreFromRecoveryKey(ctx, recoveryKey)
			})
		},
	}
	cmd.Flags().StringVar(&recoveryKey, "recovery-key", "", "recovery key (prompted when empty)")
	cmd.Flags().BoolVar(&withPassphrase, "with-passphrase", false, "restore with the backup passphrase")
	cmd.MarkFlagsMutuallyExclusive("recovery-key", "with-passphrase")
	return cmd
}

func printRestore(cmd *cobra.Command, restore func() (domain.RestoreResult, error)) error {
	res, err := restore()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Restored %d of %d keys from backup %s.\n", res.Imported, res.Total, res.Status.Version)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	if !res.Status.Trusted {
		fmt.Fprintln(out, "The backup is not trusted yet. Verify this device to start backing up new keys.")
	}
	return nil
}
