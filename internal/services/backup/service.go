package backup

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"trustkit/internal/domain"
	"trustkit/internal/metrics"
)

// DefaultMinPassphraseLength is the shortest passphrase accepted for a backup.
const DefaultMinPassphraseLength = 8

const untrustedRestoreWarning = "keys were restored, but the backup is not trusted yet; verify this device to trust it"

// Options configures a Service.
type Options struct {
	// MinPassphraseLength defaults to DefaultMinPassphraseLength.
	MinPassphraseLength int
	Logger              zerolog.Logger
	Metrics             *metrics.Metrics
	// OnBackupProgress receives the stages of backup creation.
	OnBackupProgress func(domain.BackupProgressEvent)
	// OnRestoreProgress receives the stages of a restore, including the
	// provider's per-key import progress.
	OnRestoreProgress func(domain.BackupProgressEvent)
}

// Service is the single source of truth for whether the account's key
// backup is active and trustworthy.
type Service struct {
	provider  domain.BackupProvider
	minLen    int
	log       zerolog.Logger
	metrics   *metrics.Metrics
	onBackup  func(domain.BackupProgressEvent)
	onRestore func(domain.BackupProgressEvent)
}

// New returns a backup service over the given provider.
func New(p domain.BackupProvider, opts Options) *Service {
	if opts.MinPassphraseLength <= 0 {
		opts.MinPassphraseLength = DefaultMinPassphraseLength
	}
	return &Service{
		provider:  p,
		minLen:    opts.MinPassphraseLength,
		log:       opts.Logger.With().Str("component", "backup").Logger(),
		metrics:   opts.Metrics,
		onBackup:  opts.OnBackupProgress,
		onRestore: opts.OnRestoreProgress,
	}
}

// GetStatus returns the current backup status. Provider failures, including
// a failing trust check, yield {Enabled: false}.
func (s *Service) GetStatus(ctx context.Context) domain.BackupStatus {
	info, err := s.provider.GetBackupVersion(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("get backup version")
		return domain.BackupStatus{}
	}
	if info == nil {
		return domain.BackupStatus{}
	}
	trust, err := s.provider.IsBackupTrusted(ctx, *info)
	if err != nil {
		s.log.Warn().Err(err).Str("version", string(info.Version)).Msg("check backup trust")
		return domain.BackupStatus{}
	}
	return statusOf(*info, trust)
}

func statusOf(info domain.BackupVersionInfo, trust domain.BackupTrustInfo) domain.BackupStatus {
	return domain.BackupStatus{
		Enabled:      true,
		Version:      info.Version,
		Algorithm:    info.Algorithm,
		SessionCount: info.Count,
		ETag:         info.ETag,
		Trusted:      trust.Usable,
	}
}

// ValidatePassphrase applies the passphrase policy and checks the
// confirmation. Callers run it before CreateBackupWithPassphrase.
func (s *Service) ValidatePassphrase(passphrase, confirmation string) error {
	if err := s.checkLength(passphrase); err != nil {
		return err
	}
	if passphrase != confirmation {
		return newError(KindInvalidInput, "validate passphrase", ErrPassphraseMismatch)
	}
	return nil
}

func (s *Service) checkLength(passphrase string) error {
	if utf8.RuneCountInString(passphrase) < s.minLen {
		return newError(KindInvalidInput, "validate passphrase",
			errors.Wrapf(ErrPassphraseTooShort, "need at least %d characters", s.minLen))
	}
	return nil
}

// CreateBackup creates a backup version with a random recovery key.
func (s *Service) CreateBackup(ctx context.Context) (domain.BackupRecoveryInfo, error) {
	return s.create(ctx, "")
}

// CreateBackupWithPassphrase creates a backup version whose key is derived
// from passphrase. Short passphrases are rejected before the provider is
// called.
func (s *Service) CreateBackupWithPassphrase(ctx context.Context, passphrase string) (domain.BackupRecoveryInfo, error) {
	if err := s.checkLength(passphrase); err != nil {
		return domain.BackupRecoveryInfo{}, err
	}
	return s.create(ctx, passphrase)
}

// create registers and enables a new version, then schedules every session
// for upload. A previous version is superseded, not migrated. Once the
// version is enabled the recovery info is returned even alongside an error.
func (s *Service) create(ctx context.Context, passphrase string) (info domain.BackupRecoveryInfo, err error) {
	const op = "create backup"
	defer func() { s.metrics.BackupOp("create", err) }()

	fail := func(kind Kind, err error, what string) (domain.BackupRecoveryInfo, error) {
		s.log.Error().Err(err).Msg(what)
		s.emit(s.onBackup, domain.BackupProgressEvent{Stage: domain.BackupStageError, Error: err.Error()})
		return domain.BackupRecoveryInfo{}, newError(kind, op, errors.Wrap(err, what))
	}

	s.emit(s.onBackup, domain.BackupProgressEvent{Stage: domain.BackupStagePreparing})

	keyKind := KindKeyBackup
	if passphrase != "" {
		keyKind = KindPassphrase
	}
	key, err := s.provider.CreateRecoveryKeyFromPassphrase(ctx, passphrase)
	if err != nil {
		return fail(keyKind, err, "create recovery key")
	}
	prepared, err := s.provider.PrepareBackupVersion(ctx, key)
	if err != nil {
		return fail(KindKeyBackup, err, "prepare backup version")
	}
	version, err := s.provider.CreateBackupVersion(ctx, prepared)
	if err != nil {
		return fail(KindKeyBackup, err, "create backup version")
	}
	created := domain.BackupVersionInfo{
		Version:   version,
		Algorithm: prepared.Algorithm,
		AuthData:  prepared.AuthData,
	}
	if err := s.provider.EnableBackup(ctx, created); err != nil {
		return fail(KindKeyBackup, err, "enable backup")
	}

	// The version is live from here on, so the recovery key is returned
	// even when scheduling the upload fails.
	info = domain.BackupRecoveryInfo{
		RecoveryKey:   key.EncodedPrivateKey,
		Passphrase:    passphrase,
		BackupVersion: version,
	}

	s.emit(s.onBackup, domain.BackupProgressEvent{Stage: domain.BackupStageUploading})
	if err := s.provider.ScheduleAllSessionsForBackup(ctx); err != nil {
		_, err = fail(KindKeyBackup, err, "schedule sessions for backup")
		return info, err
	}
	s.emit(s.onBackup, domain.BackupProgressEvent{Stage: domain.BackupStageComplete})

	s.log.Info().Str("version", string(version)).Bool("passphrase", passphrase != "").Msg("backup created")
	return info, nil
}

// RestoreFromRecoveryKey imports every key of the current backup version.
// The restore succeeds even when the backup is not trusted; that case is
// reported through Status.Trusted and Warnings.
func (s *Service) RestoreFromRecoveryKey(ctx context.Context, recoveryKey string) (domain.RestoreResult, error) {
	recoveryKey = strings.TrimSpace(recoveryKey)
	if recoveryKey == "" {
		return domain.RestoreResult{}, newError(KindInvalidInput, "restore with recovery key", ErrEmptyRecoveryKey)
	}
	return s.restore(ctx, "restore with recovery key", KindKeyBackup,
		func(info domain.BackupVersionInfo, progress func(domain.RestoreProgress)) (domain.RestoreProgress, error) {
			return s.provider.RestoreBackupWithKey(ctx, recoveryKey, info, progress)
		})
}

// RestoreFromPassphrase is RestoreFromRecoveryKey for passphrase-derived backups.
func (s *Service) RestoreFromPassphrase(ctx context.Context, passphrase string) (domain.RestoreResult, error) {
	if passphrase == "" {
		return domain.RestoreResult{}, newError(KindInvalidInput, "restore with passphrase", ErrEmptyPassphrase)
	}
	return s.restore(ctx, "restore with passphrase", KindPassphrase,
		func(info domain.BackupVersionInfo, progress func(domain.RestoreProgress)) (domain.RestoreProgress, error) {
			return s.provider.RestoreBackupWithPassphrase(ctx, passphrase, info, progress)
		})
}

type restoreFunc func(domain.BackupVersionInfo, func(domain.RestoreProgress)) (domain.RestoreProgress, error)

func (s *Service) restore(ctx context.Context, op string, kind Kind, do restoreFunc) (res domain.RestoreResult, err error) {
	defer func() { s.metrics.BackupOp("restore", err) }()

	fail := func(kind Kind, err error) (domain.RestoreResult, error) {
		s.log.Error().Err(err).Str("op", op).Msg("restore failed")
		s.emit(s.onRestore, domain.BackupProgressEvent{Stage: domain.BackupStageError, Error: err.Error()})
		return domain.RestoreResult{}, newError(kind, op, err)
	}

	s.emit(s.onRestore, domain.BackupProgressEvent{Stage: domain.BackupStagePreparing})
	info, err := s.provider.GetBackupVersion(ctx)
	if err != nil {
		return fail(KindKeyBackup, errors.Wrap(err, "get backup version"))
	}
	if info == nil {
		return fail(KindBackupNotEnabled, ErrNoBackupVersion)
	}

	progress, err := do(*info, func(p domain.RestoreProgress) {
		s.emit(s.onRestore, domain.BackupProgressEvent{
			Stage:    domain.BackupStageImporting,
			Imported: p.Imported,
			Total:    p.Total,
		})
	})
	if err != nil {
		return fail(kind, err)
	}
	s.metrics.RestoredKeys(progress.Imported)

	res = domain.RestoreResult{Imported: progress.Imported, Total: progress.Total}
	trust, err := s.provider.IsBackupTrusted(ctx, *info)
	if err != nil {
		s.log.Warn().Err(err).Str("version", string(info.Version)).Msg("check backup trust after restore")
		trust = domain.BackupTrustInfo{}
	}
	res.Status = statusOf(*info, trust)
	if !res.Status.Trusted {
		res.Warnings = append(res.Warnings, untrustedRestoreWarning)
		s.log.Warn().Str("version", string(info.Version)).Msg("restored from untrusted backup")
	}

	s.emit(s.onRestore, domain.BackupProgressEvent{
		Stage:    domain.BackupStageComplete,
		Imported: progress.Imported,
		Total:    progress.Total,
	})
	s.log.Info().Int("imported", progress.Imported).Int("total", progress.Total).Msg("backup restored")
	return res, nil
}

// DeleteBackup deletes the current version on the server and disables
// backup locally. It cannot be undone.
func (s *Service) DeleteBackup(ctx context.Context) (err error) {
	const op = "delete backup"
	defer func() { s.metrics.BackupOp("delete", err) }()

	info, err := s.provider.GetBackupVersion(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("get backup version")
		return newError(KindKeyBackup, op, err)
	}
	if info == nil {
		return newError(KindBackupNotEnabled, op, ErrNoBackupVersion)
	}
	if err := s.provider.DeleteBackupVersion(ctx, info.Version); err != nil {
		s.log.Error().Err(err).Str("version", string(info.Version)).Msg("delete backup version")
		return newError(KindKeyBackup, op, err)
	}
	if err := s.provider.DisableBackup(ctx); err != nil {
		s.log.Error().Err(err).Msg("disable backup")
		return newError(KindKeyBackup, op, errors.Wrap(err, "disable backup"))
	}
	s.log.Info().Str("version", string(info.Version)).Msg("backup deleted")
	return nil
}

// IsBackedUp reports whether a backup version exists and no session is
// waiting for upload. Provider failures yield false.
func (s *Service) IsBackedUp(ctx context.Context) bool {
	info, err := s.provider.GetBackupVersion(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("get backup version")
		return false
	}
	if info == nil {
		return false
	}
	n, err := s.provider.CountSessionsNeedingBackup(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("count sessions needing backup")
		return false
	}
	return n == 0
}

// BackupAllKeys schedules every session for upload and returns without
// waiting for the upload.
func (s *Service) BackupAllKeys(ctx context.Context) (err error) {
	defer func() { s.metrics.BackupOp("schedule", err) }()

	if err := s.provider.ScheduleAllSessionsForBackup(ctx); err != nil {
		s.log.Error().Err(err).Msg("schedule sessions for backup")
		return newError(KindKeyBackup, "backup all keys", err)
	}
	return nil
}

// GetBackupProgress reports pending and uploaded session counts. Provider
// failures yield a zero value.
func (s *Service) GetBackupProgress(ctx context.Context) domain.BackupProgress {
	remaining, err := s.provider.CountSessionsNeedingBackup(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("count sessions needing backup")
		return domain.BackupProgress{}
	}
	info, err := s.provider.GetBackupVersion(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("get backup version")
		return domain.BackupProgress{}
	}
	var backedUp int
	if info != nil {
		backedUp = info.Count
	}
	s.metrics.SetPendingSessions(remaining)
	return domain.BackupProgress{Total: remaining + backedUp, Remaining: remaining, BackedUp: backedUp}
}

// AfterDeviceVerified re-evaluates backup trust once this device has been
// verified and, if the backup is now usable, schedules the sessions that
// accumulated while it was not.
func (s *Service) AfterDeviceVerified(ctx context.Context) (domain.BackupStatus, error) {
	const op = "after device verified"

	info, err := s.provider.GetBackupVersion(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("get backup version")
		return domain.BackupStatus{}, newError(KindKeyBackup, op, err)
	}
	if info == nil {
		return domain.BackupStatus{}, nil
	}
	trust, err := s.provider.IsBackupTrusted(ctx, *info)
	if err != nil {
		s.log.Warn().Err(err).Str("version", string(info.Version)).Msg("check backup trust")
		return domain.BackupStatus{}, newError(KindBackupTrust, op, err)
	}
	status := statusOf(*info, trust)
	if !status.Trusted {
		s.log.Info().Str("version", string(info.Version)).Msg("backup still untrusted after verification")
		return status, nil
	}
	return status, s.BackupAllKeys(ctx)
}

func (s *Service) emit(cb func(domain.BackupProgressEvent), ev domain.BackupProgressEvent) {
	if cb != nil {
		cb(ev)
	}
}

var _ domain.BackupService = (*Service)(nil)
