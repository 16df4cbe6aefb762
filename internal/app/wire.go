package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"trustkit/internal/clock"
	"trustkit/internal/domain"
	"trustkit/internal/metrics"
	"trustkit/internal/provider/local"
	"trustkit/internal/services/backup"
	"trustkit/internal/services/detector"
	"trustkit/internal/services/verification"
	"trustkit/internal/store"
)

const afterVerifyTimeout = 30 * time.Second

// Hooks are the UI callbacks passed through to the managers.
type Hooks struct {
	Verification      verification.Handlers
	OnBackupProgress  func(domain.BackupProgressEvent)
	OnRestoreProgress func(domain.BackupProgressEvent)
	// OnAfterVerify receives the result of the post-verification backup
	// re-evaluation.
	OnAfterVerify func(domain.BackupStatus, error)
}

// Wire bundles the stores, provider and managers for the CLI.
type Wire struct {
	Config       Config
	Log          zerolog.Logger
	Metrics      *metrics.Metrics
	Clock        clock.Clock
	Provider     *local.Provider
	Backup       *backup.Service
	Verification *verification.Service
	Detector     *detector.Service
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, log zerolog.Logger, hooks Hooks) (*Wire, error) {
	w := &Wire{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Clock:   clock.Real(),
	}

	p, err := local.Open(cfg.Home, local.Options{
		UserID:           domain.UserID(cfg.UserID),
		DeviceID:         domain.DeviceID(cfg.DeviceID),
		DeviceName:       cfg.DeviceName,
		PickleKey:        cfg.PickleKey,
		PBKDF2Iterations: cfg.Backup.PBKDF2Iterations,
		AutoPartner:      cfg.Partner.Auto,
		PartnerDelay:     cfg.Partner.Delay,
		Logger:           log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open local provider")
	}
	w.Provider = p

	w.Detector = detector.New(
		store.NewStateFileStore(cfg.Home),
		store.NewMemoryStateStore(),
		detector.Options{Clock: w.Clock, Logger: log},
	)

	w.Backup = backup.New(p, backup.Options{
		MinPassphraseLength: cfg.Backup.MinPassphraseLength,
		Logger:              log,
		Metrics:             w.Metrics,
		OnBackupProgress:    hooks.OnBackupProgress,
		OnRestoreProgress:   hooks.OnRestoreProgress,
	})

	handlers := hooks.Verification
	userComplete := handlers.OnVerificationComplete
	handlers.OnVerificationComplete = func(deviceID domain.DeviceID, userID domain.UserID) {
		w.afterVerified(userID, hooks.OnAfterVerify)
		if userComplete != nil {
			userComplete(deviceID, userID)
		}
	}
	w.Verification = verification.New(p, verification.Options{
		Handlers:       handlers,
		PartnerTimeout: cfg.Verification.PartnerTimeout,
		Clock:          w.Clock,
		Logger:         log,
		Metrics:        w.Metrics,
	})
	return w, nil
}

// afterVerified records the verification of this device and lets the backup
// manager pick up keys that accumulated while it was unverified.
func (w *Wire) afterVerified(userID domain.UserID, report func(domain.BackupStatus, error)) {
	if userID == w.Provider.UserID() {
		if err := w.Detector.RecordVerification(w.Provider.DeviceID()); err != nil {
			w.Log.Warn().Err(err).Msg("record verification")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), afterVerifyTimeout)
	defer cancel()
	status, err := w.Backup.AfterDeviceVerified(ctx)
	if err != nil {
		w.Log.Error().Err(err).Msg("re-evaluate backup after verification")
	}
	if report != nil {
		report(status, err)
	}
}

// Close tears down the managers, waits for background work and writes the
// metrics textfile when one is configured.
func (w *Wire) Close() error {
	w.Verification.Destroy()
	w.Verification.Wait()
	if err := w.Provider.Close(); err != nil {
		return errors.Wrap(err, "close provider")
	}
	w.Metrics.SetPendingSessions(w.Backup.GetBackupProgress(context.Background()).Remaining)
	if path := w.Config.Metrics.File; path != "" {
		if err := w.Metrics.WriteFile(path); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}
