package provider

import (
	"context"

	"github.com/pkg/errors"

	"trustkit/internal/domain"
)

// ErrUnavailable is returned by every operation of Unavailable.
var ErrUnavailable = errors.New("crypto provider is not available")

// Unavailable is the provider used before the crypto engine is ready or after
// it has been torn down. Queries fail with ErrUnavailable so the managers
// degrade the same way they do for any other provider failure.
type Unavailable struct{}

func (Unavailable) GetBackupVersion(context.Context) (*domain.BackupVersionInfo, error) {
	return nil, ErrUnavailable
}

func (Unavailable) IsBackupTrusted(context.Context, domain.BackupVersionInfo) (domain.BackupTrustInfo, error) {
	return domain.BackupTrustInfo{}, ErrUnavailable
}

func (Unavailable) CreateRecoveryKeyFromPassphrase(context.Context, string) (domain.RecoveryKey, error) {
	return domain.RecoveryKey{}, ErrUnavailable
}

func (Unavailable) PrepareBackupVersion(context.Context, domain.RecoveryKey) (domain.PreparedBackup, error) {
	return domain.PreparedBackup{}, ErrUnavailable
}

func (Unavailable) CreateBackupVersion(context.Context, domain.PreparedBackup) (domain.BackupVersion, error) {
	return "", ErrUnavailable
}

func (Unavailable) EnableBackup(context.Context, domain.BackupVersionInfo) error { return ErrUnavailable }

func (Unavailable) DisableBackup(context.Context) error { return ErrUnavailable }

func (Unavailable) DeleteBackupVersion(context.Context, domain.BackupVersion) error {
	return ErrUnavailable
}

func (Unavailable) ScheduleAllSessionsForBackup(context.Context) error { return ErrUnavailable }

func (Unavailable) CountSessionsNeedingBackup(context.Context) (int, error) { return 0, ErrUnavailable }

func (Unavailable) RestoreBackupWithKey(
	context.Context, string, domain.BackupVersionInfo, func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	return domain.RestoreProgress{}, ErrUnavailable
}

func (Unavailable) RestoreBackupWithPassphrase(
	context.Context, string, domain.BackupVersionInfo, func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	return domain.RestoreProgress{}, ErrUnavailable
}

func (Unavailable) RequestVerification(
	context.Context, domain.UserID, domain.DeviceID,
) (domain.VerificationRequest, error) {
	return nil, ErrUnavailable
}

// Subscribe never delivers events.
func (Unavailable) Subscribe(domain.VerificationEventKind, func(domain.VerificationEvent)) domain.Unsubscribe {
	return func() {}
}

func (Unavailable) IsDeviceVerified(context.Context, domain.UserID, domain.DeviceID) (bool, error) {
	return false, ErrUnavailable
}

func (Unavailable) ListDevices(context.Context, domain.UserID) ([]domain.DeviceTrust, error) {
	return nil, ErrUnavailable
}

var _ domain.CryptoProvider = Unavailable{}
