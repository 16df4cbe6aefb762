package types

import "time"

// DeviceInfo identifies a cryptographic device.
type DeviceInfo struct {
	UserID      UserID   `json:"user_id"`
	DeviceID    DeviceID `json:"device_id"`
	DisplayName string   `json:"display_name,omitempty"`
}

// DeviceTrust pairs a device with the provider's trust verdict.
type DeviceTrust struct {
	Device   DeviceInfo `json:"device"`
	Verified bool       `json:"verified"`
}

// DeviceList partitions the known devices of an account. Verified and
// Unverified are disjoint and together cover every known device.
type DeviceList struct {
	Verified   []DeviceInfo `json:"verified"`
	Unverified []DeviceInfo `json:"unverified"`
}

// DeviceRegistryEntry is the persisted bookkeeping for one device ID.
type DeviceRegistryEntry struct {
	DeviceID                 DeviceID   `json:"device_id"`
	FirstSeenAt              time.Time  `json:"first_seen_at"`
	LastSeenAt               time.Time  `json:"last_seen_at"`
	HasCompletedVerification bool       `json:"has_completed_verification"`
	SkippedAt                *time.Time `json:"skipped_at,omitempty"`
}

// PromptReason explains why the verification prompt should be shown.
type PromptReason string

const (
	PromptNone       PromptReason = ""
	PromptFirstLogin PromptReason = "first-login"
	PromptNewDevice  PromptReason = "new-device"
)

// LoginState is the detector's decision for the current session.
type LoginState struct {
	IsFirstLogin         bool                `json:"is_first_login"`
	IsNewDevice          bool                `json:"is_new_device"`
	HasShownDevicePrompt bool                `json:"has_shown_device_prompt"`
	Reason               PromptReason        `json:"reason,omitempty"`
	Device               DeviceRegistryEntry `json:"device"`
}

// ShouldPrompt reports whether verification should interrupt the session.
func (s LoginState) ShouldPrompt() bool { return s.Reason != PromptNone }
