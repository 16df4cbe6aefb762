package interfaces

import (
	"context"

	domaintypes "trustkit/internal/domain/types"
)

// BackupService owns the lifecycle of the account's key backup.
type BackupService interface {
	GetStatus(ctx context.Context) domaintypes.BackupStatus
	CreateBackup(ctx context.Context) (domaintypes.BackupRecoveryInfo, error)
	CreateBackupWithPassphrase(
		ctx context.Context,
		passphrase string,
	) (domaintypes.BackupRecoveryInfo, error)
	RestoreFromRecoveryKey(ctx context.Context, recoveryKey string) (domaintypes.RestoreResult, error)
	RestoreFromPassphrase(ctx context.Context, passphrase string) (domaintypes.RestoreResult, error)
	DeleteBackup(ctx context.Context) error
	IsBackedUp(ctx context.Context) bool
	BackupAllKeys(ctx context.Context) error
	GetBackupProgress(ctx context.Context) domaintypes.BackupProgress
}

// VerificationService drives one interactive device verification.
type VerificationService interface {
	State() domaintypes.VerificationState
	StartVerification(
		ctx context.Context,
		userID domaintypes.UserID,
		deviceID domaintypes.DeviceID,
	) error
	AcceptVerification(ctx context.Context, request domaintypes.VerificationRequest) error
	StartEmojiVerification(ctx context.Context) error
	StartQRVerification(ctx context.Context) error
	ConfirmEmojiMatch(ctx context.Context) error
	ConfirmQRScanned(ctx context.Context) error
	CancelVerification(ctx context.Context)
	IsDeviceVerified(
		ctx context.Context,
		userID domaintypes.UserID,
		deviceID domaintypes.DeviceID,
	) bool
	ListDevices(ctx context.Context, userID domaintypes.UserID) (domaintypes.DeviceList, error)
	Destroy()
}

// LoginDetector decides whether the verification prompt interrupts the
// current session.
type LoginDetector interface {
	Detect(deviceID domaintypes.DeviceID) (domaintypes.LoginState, error)
	MarkPromptShown() error
	CompleteFirstLogin() error
	RecordVerification(deviceID domaintypes.DeviceID) error
	RecordSkip(deviceID domaintypes.DeviceID) error
	Reset() error
}
