package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"trustkit/internal/domain"
)

func verifyCmd() *cobra.Command {
	var (
		deviceID string
		method   string
		incoming bool
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "verify <user-id>",
		Short: "Verify a device of a user by emoji or QR code",
		Long: "Verify a device of a user by emoji or QR code.\n\n" +
			"The other side is played by the simulated partner device of the local\n" +
			"provider; with --incoming the partner raises the request instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID := domain.UserID(args[0])
			m, err := domain.ParseMethod(method)
			if err != nil {
				return err
			}

			if incoming {
				err = acceptIncoming(ctx, userID, domain.DeviceID(deviceID))
			} else {
				err = appCtx.Verification.StartVerification(ctx, userID, domain.DeviceID(deviceID))
			}
			if err != nil {
				return err
			}

			if m == domain.MethodQR {
				err = appCtx.Verification.StartQRVerification(ctx)
			} else {
				err = appCtx.Verification.StartEmojiVerification(ctx)
			}
			if err != nil {
				return err
			}

			st := appCtx.Verification.State()
			if err := showSAS(cmd.OutOrStdout(), st); err != nil {
				appCtx.Verification.CancelVerification(ctx)
				return err
			}

			question := "Do the emoji match the ones on the other device?"
			if m == domain.MethodQR {
				question = "Has the other device scanned this code?"
			}
			ok := yes
			if !ok {
				if ok, err = confirm(cmd, question); err != nil {
					return err
				}
			}
			if !ok {
				appCtx.Verification.CancelVerification(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "Verification cancelled.")
				return nil
			}

			if m == domain.MethodQR {
				err = appCtx.Verification.ConfirmQRScanned(ctx)
			} else {
				err = appCtx.Verification.ConfirmEmojiMatch(ctx)
			}
			if err != nil {
				return err
			}
			return waitForPartner(cmd, wire.Config.Verification.PartnerTimeout)
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device to verify (any device of the user when empty)")
	cmd.Flags().StringVar(&method, "method", "emoji", "verification method: emoji or qr")
	cmd.Flags().BoolVar(&incoming, "incoming", false, "let the partner device start the request")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm without asking")
	return cmd
}

// acceptIncoming makes the simulated partner raise a request and accepts it
// once the verification manager reports it.
func acceptIncoming(ctx context.Context, userID domain.UserID, deviceID domain.DeviceID) error {
	if deviceID == "" {
		return errors.New("--device is required with --incoming")
	}
	if _, err := wire.Provider.PartnerRequest(userID, deviceID); err != nil {
		return err
	}
	select {
	case req := <-events.incoming:
		return appCtx.Verification.AcceptVerification(ctx, req)
	case <-time.After(5 * time.Second):
		return errors.New("no incoming verification request")
	}
}

func showSAS(out io.Writer, st domain.VerificationState) error {
	switch st.Method {
	case domain.MethodEmoji:
		fmt.Fprintln(out, "Compare these emoji with the other device:")
		for _, e := range st.Emoji {
			fmt.Fprintf(out, "  %s  %s\n", e.Symbol, e.Description)
		}
	case domain.MethodQR:
		code, err := qrcode.New(st.QRCode, qrcode.Medium)
		if err != nil {
			return errors.Wrap(err, "render qr code")
		}
		fmt.Fprintln(out, "Scan this code with the other device:")
		fmt.Fprint(out, code.ToSmallString(false))
	case domain.MethodNone:
		return errors.New("no verification method selected")
	}
	return nil
}

func waitForPartner(cmd *cobra.Command, timeout time.Duration) error {
	if appCtx.Verification.State().Phase == domain.PhaseDone {
		<-events.complete
		fmt.Fprintln(cmd.OutOrStdout(), "Device verified.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Waiting for the other device to confirm...")
	select {
	case dev := <-events.complete:
		fmt.Fprintf(cmd.OutOrStdout(), "Device %s verified.\n", dev)
		return nil
	case msg := <-events.failed:
		return errors.New(msg)
	case <-time.After(timeout + time.Second):
		return errors.New("verification did not finish")
	}
}
