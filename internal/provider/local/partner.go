package local

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/pkg/errors"

	"trustkit/internal/crypto"
	"trustkit/internal/domain"
)

// The methods in this file act for simulated partner devices. They stand in
// for the remote side of the protocol in tests and in the CLI.

// AddPartnerDevice publishes a simulated device whose keys are held by this
// provider.
func (p *Provider) AddPartnerDevice(userID domain.UserID, deviceID domain.DeviceID, name string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	if deviceID == "" {
		deviceID = newDeviceID()
	}
	keys, rec, err := generateDevice(userID, deviceID, name)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.findDeviceLocked(userID, deviceID); ok {
		return nil
	}
	p.sec.Partners[deviceID] = keys
	p.server.Devices = upsertDevice(p.server.Devices, rec)
	if err := p.saveServerLocked(); err != nil {
		return err
	}
	return p.saveSecretsLocked()
}

// PartnerRequest raises an incoming request from a simulated partner device
// and delivers it to EventRequestReceived subscribers.
func (p *Provider) PartnerRequest(userID domain.UserID, deviceID domain.DeviceID) (domain.VerificationRequest, error) {
	p.mu.Lock()
	_, ok := p.findDeviceLocked(userID, deviceID)
	p.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%s %s", userID, deviceID)
	}

	r := newRequest(p, userID, deviceID, true)
	p.txns.Store(r.txn, r)
	p.bus.Publish(domain.VerificationEvent{
		Kind:          domain.EventRequestReceived,
		TransactionID: r.txn,
		Request:       r,
	})
	return r, nil
}

// PartnerAccept answers an outgoing request from deviceID, or from the first
// simulated device of the target user when deviceID is empty.
func (p *Provider) PartnerAccept(txn domain.TransactionID, deviceID domain.DeviceID) error {
	r, err := p.lookup(txn)
	if err != nil {
		return err
	}
	if deviceID == "" {
		deviceID = r.OtherDeviceID()
	}
	if deviceID == "" {
		deviceID = p.firstPartner(r.otherUser)
	}
	if deviceID == "" {
		return errNoOtherDevice
	}

	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return ErrRequestCancelled
	}
	r.otherDevice = deviceID
	r.mu.Unlock()
	r.markReady()

	p.bus.Publish(domain.VerificationEvent{Kind: domain.EventRequestReady, TransactionID: txn, Request: r})
	return nil
}

// PartnerConfirm records the partner's confirmation. If the local side has
// already confirmed, the device becomes verified before the event is
// published.
func (p *Provider) PartnerConfirm(txn domain.TransactionID) error {
	r, err := p.lookup(txn)
	if err != nil {
		return err
	}
	v := r.currentVerifier()
	if v == nil {
		return errors.Wrap(ErrUnknownTransaction, "no verifier started")
	}

	v.mu.Lock()
	if v.cancelled {
		v.mu.Unlock()
		return ErrRequestCancelled
	}
	v.partnerConfirmed = true
	both := v.localConfirmed
	v.mu.Unlock()

	if both {
		if err := p.complete(r); err != nil {
			return err
		}
	}
	p.bus.Publish(domain.VerificationEvent{Kind: domain.EventPartnerConfirmed, TransactionID: txn, Request: r})
	return nil
}

// PartnerCancel cancels txn from the partner side and notifies subscribers.
func (p *Provider) PartnerCancel(txn domain.TransactionID, reason string) error {
	r, err := p.lookup(txn)
	if err != nil {
		return err
	}
	r.cancel()
	p.txns.Delete(txn)
	p.bus.Publish(domain.VerificationEvent{
		Kind:          domain.EventCancelled,
		TransactionID: txn,
		Request:       r,
		Reason:        reason,
	})
	return nil
}

// PartnerEmoji returns the emoji the partner device displays for txn.
func (p *Provider) PartnerEmoji(txn domain.TransactionID) ([]domain.SASEmoji, error) {
	r, err := p.lookup(txn)
	if err != nil {
		return nil, err
	}
	v := r.currentVerifier()
	if v == nil || v.method != domain.MethodEmoji {
		return nil, errors.Wrap(ErrUnknownTransaction, "no emoji verifier started")
	}
	return append([]domain.SASEmoji(nil), v.partnerEmoji...), nil
}

// PartnerCreateBackup replaces the server backup with one created and signed
// by the simulated device deviceID, holding n sessions this device has never
// seen. The returned recovery info is what the partner's user would hold.
func (p *Provider) PartnerCreateBackup(
	ctx context.Context,
	deviceID domain.DeviceID,
	passphrase string,
	n int,
) (domain.BackupRecoveryInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.BackupRecoveryInfo{}, err
	}
	p.mu.Lock()
	keys, ok := p.sec.Partners[deviceID]
	p.mu.Unlock()
	if !ok {
		return domain.BackupRecoveryInfo{}, errors.Wrapf(ErrUnknownDevice, "%s", deviceID)
	}

	key, err := newRecoveryKey(passphrase, p.iters)
	if err != nil {
		return domain.BackupRecoveryInfo{}, err
	}
	auth, err := signedAuthData(key, p.userID, deviceID, ed25519.PrivateKey(keys.Signing))
	if err != nil {
		return domain.BackupRecoveryInfo{}, err
	}
	pub, err := crypto.UnB64(auth.PublicKey)
	if err != nil {
		return domain.BackupRecoveryInfo{}, err
	}

	sessions := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		sk, err := crypto.GenerateRecoveryKey()
		if err != nil {
			return domain.BackupRecoveryInfo{}, errors.Wrap(err, "generate session key")
		}
		sealed, err := crypto.Seal(pub, sk)
		if err != nil {
			return domain.BackupRecoveryInfo{}, errors.Wrap(err, "seal session")
		}
		sessions[newSessionID()] = sealed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	version := p.createVersionLocked(domain.PreparedBackup{Algorithm: domain.BackupAlgorithmMegolmV1, AuthData: auth})
	p.server.Backup.Sessions = sessions
	p.server.Backup.Revision = 1
	if err := p.saveServerLocked(); err != nil {
		return domain.BackupRecoveryInfo{}, err
	}
	return domain.BackupRecoveryInfo{
		RecoveryKey:   key.EncodedPrivateKey,
		Passphrase:    passphrase,
		BackupVersion: version,
	}, nil
}

// ActiveTransactions returns the IDs of transactions still in flight.
func (p *Provider) ActiveTransactions() []domain.TransactionID {
	var out []domain.TransactionID
	p.txns.Range(func(txn domain.TransactionID, _ *request) bool {
		out = append(out, txn)
		return true
	})
	return out
}

func (p *Provider) lookup(txn domain.TransactionID) (*request, error) {
	r, ok := p.txns.Load(txn)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransaction, "%s", txn)
	}
	return r, nil
}

func (p *Provider) firstPartner(userID domain.UserID) domain.DeviceID {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range p.server.Devices {
		if d.UserID != userID || (d.UserID == p.userID && d.DeviceID == p.deviceID) {
			continue
		}
		if _, ok := p.sec.Partners[d.DeviceID]; ok {
			return d.DeviceID
		}
	}
	return ""
}

// partnerWait delays a simulated partner action. It reports false when the
// request was cancelled in the meantime.
func (p *Provider) partnerWait(r *request) bool {
	if p.delay <= 0 {
		return !r.isCancelled()
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.done:
		return false
	}
}
