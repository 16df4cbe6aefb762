package trust

import "trustkit/internal/domain"

// Level is the overall security level of the session.
type Level string

const (
	// LevelInsecure means the device is unverified and keys are not backed up.
	LevelInsecure Level = "insecure"
	// LevelPartial means only some of the protections are in place.
	LevelPartial Level = "partial"
	// LevelSecure means the device is verified and a trusted backup is enabled.
	LevelSecure Level = "secure"
)

// Reasons reported by Summarize.
const (
	ReasonDeviceUnverified      = "this device is not verified"
	ReasonBackupDisabled        = "key backup is not enabled"
	ReasonBackupUntrusted       = "key backup is not trusted on this device"
	ReasonVerificationRunning   = "a device verification is in progress"
	ReasonVerificationFailed    = "the last verification failed"
	ReasonVerificationCancelled = "the last verification was cancelled"
)

// Summary is the presentation of the session's trust.
type Summary struct {
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons,omitempty"`
}

// Summarize combines the backup status, the trust of the current device and
// the verification state into a Summary. A secure level requires both a
// verified device and an enabled, trusted backup.
func Summarize(status domain.BackupStatus, deviceVerified bool, state domain.VerificationState) Summary {
	var reasons []string
	if !deviceVerified {
		reasons = append(reasons, ReasonDeviceUnverified)
	}
	backedUp := status.Enabled && status.Trusted
	switch {
	case !status.Enabled:
		reasons = append(reasons, ReasonBackupDisabled)
	case !status.Trusted:
		reasons = append(reasons, ReasonBackupUntrusted)
	}

	switch state.Phase {
	case domain.PhaseRequesting, domain.PhaseReady, domain.PhaseShowingSAS, domain.PhaseWaitingForPartner:
		reasons = append(reasons, ReasonVerificationRunning)
	case domain.PhaseCancelled:
		reasons = append(reasons, ReasonVerificationCancelled)
	case domain.PhaseIdle:
		if state.Error != "" {
			reasons = append(reasons, ReasonVerificationFailed)
		}
	case domain.PhaseDone:
	}

	level := LevelPartial
	switch {
	case deviceVerified && backedUp:
		level = LevelSecure
	case !deviceVerified && !status.Enabled:
		level = LevelInsecure
	}
	return Summary{Level: level, Reasons: reasons}
}
