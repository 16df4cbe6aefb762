package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trustkit/internal/app"
	"trustkit/internal/domain"
	"trustkit/internal/services/verification"
)

var (
	v       = viper.New()
	appCtx  *app.App
	wire    *app.Wire
	log     zerolog.Logger
	closers []func() error

	events = newVerificationEvents()
)

// verificationEvents forwards verification handler calls to the command
// that is waiting on them.
type verificationEvents struct {
	complete chan domain.DeviceID
	failed   chan string
	incoming chan domain.VerificationRequest
}

func newVerificationEvents() *verificationEvents {
	return &verificationEvents{
		complete: make(chan domain.DeviceID, 1),
		failed:   make(chan string, 1),
		incoming: make(chan domain.VerificationRequest, 1),
	}
}

func (e *verificationEvents) handlers() verification.Handlers {
	return verification.Handlers{
		OnVerificationComplete: func(deviceID domain.DeviceID, _ domain.UserID) {
			select {
			case e.complete <- deviceID:
			default:
			}
		},
		OnVerificationFailed: func(msg string) {
			select {
			case e.failed <- msg:
			default:
			}
		},
		OnIncomingRequest: func(req domain.VerificationRequest) {
			select {
			case e.incoming <- req:
			default:
			}
		},
	}
}

func Execute() error {
	root := &cobra.Command{
		Use:           "trustkit",
		Short:         "Device verification and key backup for a Matrix account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return err
			}

			logger, logCloser, err := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			log = logger
			closers = append(closers, logCloser.Close)

			wire, err = app.NewWire(cfg, log, app.Hooks{
				Verification:      events.handlers(),
				OnBackupProgress:  printProgress(cmd, "backup"),
				OnRestoreProgress: printProgress(cmd, "restore"),
				OnAfterVerify: func(status domain.BackupStatus, err error) {
					if err == nil && status.Trusted {
						fmt.Fprintf(cmd.ErrOrStderr(), "Backup %s is trusted; pending keys scheduled for upload.\n", status.Version)
					}
				},
			})
			if err != nil {
				return err
			}
			appCtx = app.New(wire)
			closers = append([]func() error{appCtx.Close}, closers...)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeAll()
		},
	}

	pf := root.PersistentFlags()
	pf.String("home", "", "state directory (default ~/.trustkit)")
	pf.String("user", "", "Matrix user id, e.g. @alice:example.org")
	pf.String("device", "", "device id (generated on first run)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	bindFlag(root, "home", "home")
	bindFlag(root, "user_id", "user")
	bindFlag(root, "device_id", "device")
	bindFlag(root, "log.level", "log-level")
	bindFlag(root, "metrics.file", "metrics-file")

	root.AddCommand(backupCmd(), verifyCmd(), devicesCmd(), loginCmd(), statusCmd(), simCmd())

	err := root.Execute()
	if err != nil {
		_ = closeAll()
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// bindFlag binds a persistent flag to a config key. Unset flags fall back to
// the config file, environment and defaults.
func bindFlag(root *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, root.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func closeAll() error {
	var first error
	for _, c := range closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	closers = nil
	return first
}

func printProgress(cmd *cobra.Command, what string) func(domain.BackupProgressEvent) {
	return func(ev domain.BackupProgressEvent) {
		out := cmd.ErrOrStderr()
		switch {
		case ev.Error != "":
			fmt.Fprintf(out, "%s: %s (%s)\n", what, ev.Stage, ev.Error)
		case ev.Total > 0:
			fmt.Fprintf(out, "%s: %s %d/%d\n", what, ev.Stage, ev.Imported, ev.Total)
		default:
			fmt.Fprintf(out, "%s: %s\n", what, ev.Stage)
		}
	}
}
