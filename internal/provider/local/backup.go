package local

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"trustkit/internal/crypto"
	"trustkit/internal/domain"
)

const (
	backupKeyBits    = 256
	signingKeyPrefix = "ed25519:"
)

// GetBackupVersion returns the current server backup, or nil when there is none.
func (p *Provider) GetBackupVersion(ctx context.Context) (*domain.BackupVersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server.Backup == nil {
		return nil, nil
	}
	info := p.currentInfoLocked()
	return &info, nil
}

func (p *Provider) currentInfoLocked() domain.BackupVersionInfo {
	b := p.server.Backup
	info := b.Info
	info.Count = len(b.Sessions)
	info.ETag = strconv.Itoa(b.Revision)
	return info
}

// IsBackupTrusted reports the backup usable when its private key is held
// locally or its auth data is signed by this device or by a verified device
// of the same account.
func (p *Provider) IsBackupTrusted(ctx context.Context, info domain.BackupVersionInfo) (domain.BackupTrustInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.BackupTrustInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backupTrustLocked(info), nil
}

func (p *Provider) backupTrustLocked(info domain.BackupVersionInfo) domain.BackupTrustInfo {
	var trust domain.BackupTrustInfo
	if len(p.sec.BackupKey) > 0 {
		if pub, err := crypto.PublicFromPrivate(p.sec.BackupKey); err == nil {
			trust.TrustedLocally = crypto.B64(pub[:]) == info.AuthData.PublicKey
		}
	}
	if trust.TrustedLocally {
		trust.Usable = true
		return trust
	}

	payload := authPayload(info.AuthData)
	for keyID, sig := range info.AuthData.Signatures[string(p.userID)] {
		if !strings.HasPrefix(keyID, signingKeyPrefix) {
			continue
		}
		deviceID := domain.DeviceID(strings.TrimPrefix(keyID, signingKeyPrefix))
		if deviceID != p.deviceID && !p.device.Verified[trustKey(p.userID, deviceID)] {
			continue
		}
		rec, ok := p.findDeviceLocked(p.userID, deviceID)
		if !ok {
			continue
		}
		pub, err := crypto.UnB64(rec.SigningKey)
		if err != nil {
			continue
		}
		if crypto.VerifyEd25519(ed25519.PublicKey(pub), payload, sig) {
			trust.Usable = true
			break
		}
	}
	return trust
}

// CreateRecoveryKeyFromPassphrase derives a backup key from passphrase, or
// generates a random one when passphrase is empty.
func (p *Provider) CreateRecoveryKeyFromPassphrase(ctx context.Context, passphrase string) (domain.RecoveryKey, error) {
	if err := ctx.Err(); err != nil {
		return domain.RecoveryKey{}, err
	}
	return newRecoveryKey(passphrase, p.iters)
}

func newRecoveryKey(passphrase string, iters int) (domain.RecoveryKey, error) {
	if passphrase == "" {
		key, err := crypto.GenerateRecoveryKey()
		if err != nil {
			return domain.RecoveryKey{}, errors.Wrap(err, "generate recovery key")
		}
		return domain.RecoveryKey{PrivateKey: key, EncodedPrivateKey: crypto.EncodeRecoveryKey(key)}, nil
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return domain.RecoveryKey{}, errors.Wrap(err, "generate salt")
	}
	key, err := crypto.DeriveKeyFromPassphrase(passphrase, salt, iters)
	if err != nil {
		return domain.RecoveryKey{}, errors.Wrap(err, "derive key from passphrase")
	}
	return domain.RecoveryKey{
		PrivateKey:        key,
		EncodedPrivateKey: crypto.EncodeRecoveryKey(key),
		Passphrase:        &domain.PassphraseInfo{Salt: salt, Iterations: iters},
	}, nil
}

// PrepareBackupVersion builds auth data for key, signed by this device.
func (p *Provider) PrepareBackupVersion(ctx context.Context, key domain.RecoveryKey) (domain.PreparedBackup, error) {
	if err := ctx.Err(); err != nil {
		return domain.PreparedBackup{}, err
	}
	p.mu.Lock()
	signing := ed25519.PrivateKey(p.sec.Own.Signing)
	p.mu.Unlock()

	auth, err := signedAuthData(key, p.userID, p.deviceID, signing)
	if err != nil {
		return domain.PreparedBackup{}, err
	}
	return domain.PreparedBackup{Algorithm: domain.BackupAlgorithmMegolmV1, AuthData: auth, RecoveryKey: key}, nil
}

func signedAuthData(
	key domain.RecoveryKey,
	userID domain.UserID,
	deviceID domain.DeviceID,
	signing ed25519.PrivateKey,
) (domain.BackupAuthData, error) {
	pub, err := crypto.PublicFromPrivate(key.PrivateKey)
	if err != nil {
		return domain.BackupAuthData{}, errors.Wrap(err, "derive backup public key")
	}
	auth := domain.BackupAuthData{PublicKey: crypto.B64(pub[:])}
	if key.Passphrase != nil {
		auth.PrivateKeySalt = key.Passphrase.Salt
		auth.PrivateKeyIters = key.Passphrase.Iterations
		auth.PrivateKeyBits = backupKeyBits
	}
	auth.Signatures = map[string]map[string]string{
		string(userID): {signingKeyPrefix + string(deviceID): crypto.SignEd25519(signing, authPayload(auth))},
	}
	return auth, nil
}

// authPayload is the byte string covered by backup auth data signatures.
func authPayload(a domain.BackupAuthData) []byte {
	b, _ := json.Marshal(struct {
		PublicKey string `json:"public_key"`
		Salt      string `json:"private_key_salt,omitempty"`
		Iters     int    `json:"private_key_iterations,omitempty"`
	}{a.PublicKey, a.PrivateKeySalt, a.PrivateKeyIters})
	return b
}

// CreateBackupVersion uploads prepared as the new current backup version,
// replacing any previous one. The private key is cached on this device.
func (p *Provider) CreateBackupVersion(ctx context.Context, prepared domain.PreparedBackup) (domain.BackupVersion, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	version := p.createVersionLocked(prepared)
	p.sec.BackupKey = append([]byte(nil), prepared.RecoveryKey.PrivateKey...)
	if err := p.saveServerLocked(); err != nil {
		return "", err
	}
	if err := p.saveSecretsLocked(); err != nil {
		return "", err
	}
	p.log.Info().Str("version", string(version)).Msg("backup version created")
	return version, nil
}

func (p *Provider) createVersionLocked(prepared domain.PreparedBackup) domain.BackupVersion {
	p.server.Versions++
	version := domain.BackupVersion(strconv.Itoa(p.server.Versions))
	p.server.Backup = &serverBackup{
		Info: domain.BackupVersionInfo{
			Version:   version,
			Algorithm: prepared.Algorithm,
			AuthData:  prepared.AuthData,
		},
		Sessions: map[string][]byte{},
	}
	return version
}

// EnableBackup makes info the version new sessions are uploaded to.
func (p *Provider) EnableBackup(ctx context.Context, info domain.BackupVersionInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server.Backup == nil || p.server.Backup.Info.Version != info.Version {
		return errors.Wrapf(ErrNoBackup, "enable version %q", info.Version)
	}
	p.device.Enabled = info.Version
	return p.saveDeviceLocked()
}

// DisableBackup stops uploading sessions.
func (p *Provider) DisableBackup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.device.Enabled = ""
	return p.saveDeviceLocked()
}

// DeleteBackupVersion removes version from the server.
func (p *Provider) DeleteBackupVersion(ctx context.Context, version domain.BackupVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server.Backup == nil || p.server.Backup.Info.Version != version {
		return errors.Wrapf(ErrNoBackup, "delete version %q", version)
	}
	p.server.Backup = nil
	if p.device.Enabled == version {
		p.device.Enabled = ""
	}
	p.sec.BackupKey = nil
	if err := p.saveAllLocked(); err != nil {
		return err
	}
	p.log.Info().Str("version", string(version)).Msg("backup version deleted")
	return nil
}

// ScheduleAllSessionsForBackup marks every session as pending and starts an
// upload in the background.
func (p *Provider) ScheduleAllSessionsForBackup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.device.Uploaded = map[string]domain.BackupVersion{}
	if err := p.saveDeviceLocked(); err != nil {
		return err
	}
	p.kickUploadLocked()
	return nil
}

// kickUploadLocked starts an upload if a backup is enabled.
func (p *Provider) kickUploadLocked() {
	if p.device.Enabled == "" {
		return
	}
	p.spawn(p.upload)
}

// upload seals every pending session to the enabled backup. Nothing is
// uploaded to a backup this device does not trust.
func (p *Provider) upload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.server.Backup
	if b == nil || b.Info.Version != p.device.Enabled {
		return
	}
	if !p.backupTrustLocked(b.Info).Usable {
		p.log.Debug().Str("version", string(b.Info.Version)).Msg("backup not trusted, upload deferred")
		return
	}
	pub, err := crypto.UnB64(b.Info.AuthData.PublicKey)
	if err != nil {
		p.log.Error().Err(err).Msg("malformed backup public key")
		return
	}

	var n int
	for _, id := range sortedKeys(p.sec.Sessions) {
		if p.device.Uploaded[id] == b.Info.Version {
			continue
		}
		sealed, err := crypto.Seal(pub, p.sec.Sessions[id])
		if err != nil {
			p.log.Error().Err(err).Str("session_id", id).Msg("seal session")
			continue
		}
		b.Sessions[id] = sealed
		p.device.Uploaded[id] = b.Info.Version
		n++
	}
	if n == 0 {
		return
	}
	b.Revision++
	if err := p.saveServerLocked(); err != nil {
		p.log.Error().Err(err).Msg("upload sessions")
		return
	}
	if err := p.saveDeviceLocked(); err != nil {
		p.log.Error().Err(err).Msg("upload sessions")
		return
	}
	p.log.Info().Int("sessions", n).Str("version", string(b.Info.Version)).Msg("uploaded sessions to backup")
}

// CountSessionsNeedingBackup returns how many sessions are not yet in the
// enabled backup version.
func (p *Provider) CountSessionsNeedingBackup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int
	for id := range p.sec.Sessions {
		if p.device.Enabled == "" || p.device.Uploaded[id] != p.device.Enabled {
			n++
		}
	}
	return n, nil
}

// RestoreBackupWithKey imports every session of info decrypted with the
// encoded recovery key.
func (p *Provider) RestoreBackupWithKey(
	ctx context.Context,
	recoveryKey string,
	info domain.BackupVersionInfo,
	progress func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	key, err := crypto.DecodeRecoveryKey(recoveryKey)
	if err != nil {
		return domain.RestoreProgress{}, errors.Wrap(ErrWrongRecoveryKey, err.Error())
	}
	defer crypto.Wipe(key)
	return p.restore(ctx, key, info, progress)
}

// RestoreBackupWithPassphrase derives the key from passphrase using the
// backup's parameters and imports its sessions.
func (p *Provider) RestoreBackupWithPassphrase(
	ctx context.Context,
	passphrase string,
	info domain.BackupVersionInfo,
	progress func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	if info.AuthData.PrivateKeySalt == "" {
		return domain.RestoreProgress{}, ErrNoPassphraseInfo
	}
	key, err := crypto.DeriveKeyFromPassphrase(passphrase, info.AuthData.PrivateKeySalt, info.AuthData.PrivateKeyIters)
	if err != nil {
		return domain.RestoreProgress{}, errors.Wrap(err, "derive key from passphrase")
	}
	defer crypto.Wipe(key)
	return p.restore(ctx, key, info, progress)
}

func (p *Provider) restore(
	ctx context.Context,
	key []byte,
	info domain.BackupVersionInfo,
	progress func(domain.RestoreProgress),
) (domain.RestoreProgress, error) {
	pub, err := crypto.PublicFromPrivate(key)
	if err != nil {
		return domain.RestoreProgress{}, errors.Wrap(err, "derive backup public key")
	}
	want, err := crypto.UnB64(info.AuthData.PublicKey)
	if err != nil || !bytes.Equal(pub[:], want) {
		return domain.RestoreProgress{}, ErrWrongRecoveryKey
	}

	p.mu.Lock()
	b := p.server.Backup
	if b == nil || b.Info.Version != info.Version {
		p.mu.Unlock()
		return domain.RestoreProgress{}, errors.Wrapf(ErrNoBackup, "restore version %q", info.Version)
	}
	sealed := make(map[string][]byte, len(b.Sessions))
	for id, v := range b.Sessions {
		sealed[id] = v
	}
	p.mu.Unlock()

	res := domain.RestoreProgress{Total: len(sealed)}
	imported := make(map[string][]byte, len(sealed))
	for _, id := range sortedKeys(sealed) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sk, err := crypto.Open(key, sealed[id])
		if err != nil {
			return res, errors.Wrapf(err, "decrypt session %s", id)
		}
		imported[id] = sk
		res.Imported++
		if progress != nil {
			progress(res)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sk := range imported {
		p.sec.Sessions[id] = sk
		p.device.Uploaded[id] = info.Version
	}
	if err := p.saveSecretsLocked(); err != nil {
		return res, err
	}
	if err := p.saveDeviceLocked(); err != nil {
		return res, err
	}
	p.log.Info().Int("imported", res.Imported).Str("version", string(info.Version)).Msg("restored backup")
	return res, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
