package domain

import (
	interfaces "trustkit/internal/domain/interfaces"
	types "trustkit/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID                = types.UserID
	DeviceID              = types.DeviceID
	TransactionID         = types.TransactionID
	BackupVersion         = types.BackupVersion
	BackupStatus          = types.BackupStatus
	BackupRecoveryInfo    = types.BackupRecoveryInfo
	BackupVersionInfo     = types.BackupVersionInfo
	BackupAuthData        = types.BackupAuthData
	BackupTrustInfo       = types.BackupTrustInfo
	PassphraseInfo        = types.PassphraseInfo
	RecoveryKey           = types.RecoveryKey
	PreparedBackup        = types.PreparedBackup
	BackupProgress        = types.BackupProgress
	BackupStage           = types.BackupStage
	BackupProgressEvent   = types.BackupProgressEvent
	RestoreProgress       = types.RestoreProgress
	RestoreResult         = types.RestoreResult
	Phase                 = types.Phase
	Method                = types.Method
	SASEmoji              = types.SASEmoji
	VerificationRequest   = types.VerificationRequest
	Verifier              = types.Verifier
	VerificationState     = types.VerificationState
	VerificationEvent     = types.VerificationEvent
	VerificationEventKind = types.VerificationEventKind
	DeviceInfo            = types.DeviceInfo
	DeviceTrust           = types.DeviceTrust
	DeviceList            = types.DeviceList
	DeviceRegistryEntry   = types.DeviceRegistryEntry
	PromptReason          = types.PromptReason
	LoginState            = types.LoginState
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Unsubscribe          = interfaces.Unsubscribe
	BackupProvider       = interfaces.BackupProvider
	VerificationProvider = interfaces.VerificationProvider
	DeviceProvider       = interfaces.DeviceProvider
	CryptoProvider       = interfaces.CryptoProvider
	StateStore           = interfaces.StateStore
	BackupService        = interfaces.BackupService
	VerificationService  = interfaces.VerificationService
	LoginDetector        = interfaces.LoginDetector
)

// Re-exported constants so callers need only import domain.
const (
	BackupAlgorithmMegolmV1 = types.BackupAlgorithmMegolmV1

	BackupStagePreparing = types.BackupStagePreparing
	BackupStageUploading = types.BackupStageUploading
	BackupStageImporting = types.BackupStageImporting
	BackupStageComplete  = types.BackupStageComplete
	BackupStageError     = types.BackupStageError

	PhaseIdle              = types.PhaseIdle
	PhaseRequesting        = types.PhaseRequesting
	PhaseReady             = types.PhaseReady
	PhaseShowingSAS        = types.PhaseShowingSAS
	PhaseWaitingForPartner = types.PhaseWaitingForPartner
	PhaseDone              = types.PhaseDone
	PhaseCancelled         = types.PhaseCancelled

	MethodNone  = types.MethodNone
	MethodEmoji = types.MethodEmoji
	MethodQR    = types.MethodQR

	EventRequestReceived  = types.EventRequestReceived
	EventRequestReady     = types.EventRequestReady
	EventPartnerConfirmed = types.EventPartnerConfirmed
	EventCancelled        = types.EventCancelled

	PromptNone       = types.PromptNone
	PromptFirstLogin = types.PromptFirstLogin
	PromptNewDevice  = types.PromptNewDevice
)

// ParseMethod converts a wire name into a Method.
var ParseMethod = types.ParseMethod
