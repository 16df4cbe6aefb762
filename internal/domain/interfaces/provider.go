package interfaces

import (
	"context"

	domaintypes "trustkit/internal/domain/types"
)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// BackupProvider exposes the key-backup primitives of the crypto library.
type BackupProvider interface {
	// GetBackupVersion returns the current server backup version, or nil
	// when the account has none.
	GetBackupVersion(ctx context.Context) (*domaintypes.BackupVersionInfo, error)
	IsBackupTrusted(
		ctx context.Context,
		info domaintypes.BackupVersionInfo,
	) (domaintypes.BackupTrustInfo, error)

	// CreateRecoveryKeyFromPassphrase derives a key from passphrase, or
	// generates a random key when passphrase is empty.
	CreateRecoveryKeyFromPassphrase(
		ctx context.Context,
		passphrase string,
	) (domaintypes.RecoveryKey, error)
	PrepareBackupVersion(
		ctx context.Context,
		key domaintypes.RecoveryKey,
	) (domaintypes.PreparedBackup, error)
	CreateBackupVersion(
		ctx context.Context,
		prepared domaintypes.PreparedBackup,
	) (domaintypes.BackupVersion, error)
	EnableBackup(ctx context.Context, info domaintypes.BackupVersionInfo) error
	DisableBackup(ctx context.Context) error
	DeleteBackupVersion(ctx context.Context, version domaintypes.BackupVersion) error

	// ScheduleAllSessionsForBackup queues every group session for upload
	// and returns without waiting for the upload.
	ScheduleAllSessionsForBackup(ctx context.Context) error
	CountSessionsNeedingBackup(ctx context.Context) (int, error)

	RestoreBackupWithKey(
		ctx context.Context,
		recoveryKey string,
		info domaintypes.BackupVersionInfo,
		progress func(domaintypes.RestoreProgress),
	) (domaintypes.RestoreProgress, error)
	RestoreBackupWithPassphrase(
		ctx context.Context,
		passphrase string,
		info domaintypes.BackupVersionInfo,
		progress func(domaintypes.RestoreProgress),
	) (domaintypes.RestoreProgress, error)
}

// VerificationProvider exposes the interactive verification primitives.
type VerificationProvider interface {
	// RequestVerification raises a request towards deviceID of userID, or
	// towards every device of userID when deviceID is empty.
	RequestVerification(
		ctx context.Context,
		userID domaintypes.UserID,
		deviceID domaintypes.DeviceID,
	) (domaintypes.VerificationRequest, error)
	Subscribe(
		kind domaintypes.VerificationEventKind,
		handler func(domaintypes.VerificationEvent),
	) Unsubscribe
}

// DeviceProvider answers point-in-time device trust queries.
type DeviceProvider interface {
	IsDeviceVerified(
		ctx context.Context,
		userID domaintypes.UserID,
		deviceID domaintypes.DeviceID,
	) (bool, error)
	ListDevices(ctx context.Context, userID domaintypes.UserID) ([]domaintypes.DeviceTrust, error)
}

// CryptoProvider is the full capability set consumed by the managers.
type CryptoProvider interface {
	BackupProvider
	VerificationProvider
	DeviceProvider
}
