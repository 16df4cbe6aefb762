package app

import (
	"context"

	"trustkit/internal/domain"
	"trustkit/internal/services/trust"
)

// App exposes the managers behind their domain contracts, plus the trust
// summary derived from them.
type App struct {
	Backup       domain.BackupService
	Verification domain.VerificationService
	Detector     domain.LoginDetector

	wire *Wire
}

// New returns an App over the managers built by w.
func New(w *Wire) *App {
	return &App{
		Backup:       w.Backup,
		Verification: w.Verification,
		Detector:     w.Detector,
		wire:         w,
	}
}

// DeviceVerified reports whether this device has completed verification.
func (a *App) DeviceVerified() bool {
	own := a.wire.Provider.DeviceID()
	for _, e := range a.wire.Detector.Devices() {
		if e.DeviceID == own {
			return e.HasCompletedVerification
		}
	}
	return false
}

// Summary derives the security level of this session.
func (a *App) Summary(ctx context.Context) trust.Summary {
	return trust.Summarize(a.Backup.GetStatus(ctx), a.DeviceVerified(), a.Verification.State())
}

// Close releases the underlying wiring.
func (a *App) Close() error { return a.wire.Close() }
