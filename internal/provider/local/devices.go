package local

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"trustkit/internal/crypto"
	"trustkit/internal/domain"
)

// IsDeviceVerified reports whether this device has verified the given one.
// The local device always trusts itself.
func (p *Provider) IsDeviceVerified(ctx context.Context, userID domain.UserID, deviceID domain.DeviceID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.findDeviceLocked(userID, deviceID); !ok {
		return false, errors.Wrapf(ErrUnknownDevice, "%s %s", userID, deviceID)
	}
	if userID == p.userID && deviceID == p.deviceID {
		return true, nil
	}
	return p.device.Verified[trustKey(userID, deviceID)], nil
}

// ListDevices returns every published device of userID with its trust flag,
// ordered by device ID.
func (p *Provider) ListDevices(ctx context.Context, userID domain.UserID) ([]domain.DeviceTrust, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.DeviceTrust
	for _, d := range p.server.Devices {
		if d.UserID != userID {
			continue
		}
		verified := p.device.Verified[trustKey(d.UserID, d.DeviceID)] ||
			(d.UserID == p.userID && d.DeviceID == p.deviceID)
		out = append(out, domain.DeviceTrust{
			Device: domain.DeviceInfo{
				UserID:      d.UserID,
				DeviceID:    d.DeviceID,
				DisplayName: d.DisplayName,
			},
			Verified: verified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device.DeviceID < out[j].Device.DeviceID })
	return out, nil
}

// markVerified records trust in a device after a completed verification.
// A backup signed by that device may now be usable, so pending uploads
// are retried.
func (p *Provider) markVerified(userID domain.UserID, deviceID domain.DeviceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.device.Verified[trustKey(userID, deviceID)] = true
	if err := p.saveDeviceLocked(); err != nil {
		return err
	}
	p.log.Info().Str("user_id", string(userID)).Str("other_device_id", string(deviceID)).Msg("device verified")
	p.kickUploadLocked()
	return nil
}

// AddSessions creates n inbound group sessions, as if room keys had arrived.
// They are uploaded right away when a trusted backup is enabled.
func (p *Provider) AddSessions(n int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateRecoveryKey()
		if err != nil {
			return nil, errors.Wrap(err, "generate session key")
		}
		id := newSessionID()
		p.sec.Sessions[id] = key
		ids = append(ids, id)
	}
	if err := p.saveSecretsLocked(); err != nil {
		return nil, err
	}
	p.kickUploadLocked()
	return ids, nil
}

// SessionCount returns the number of group sessions held by this device.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sec.Sessions)
}
