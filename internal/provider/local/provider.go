package local

import (
	"crypto/ed25519"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"trustkit/internal/crypto"
	"trustkit/internal/domain"
	"trustkit/internal/provider"
	"trustkit/internal/store"
)

var (
	ErrNoBackup           = errors.New("no backup version on the server")
	ErrWrongRecoveryKey   = errors.New("recovery key does not match the backup")
	ErrNoPassphraseInfo   = errors.New("backup was not created from a passphrase")
	ErrUnknownTransaction = errors.New("unknown verification transaction")
	ErrUnknownDevice      = errors.New("unknown device")
	ErrRequestCancelled   = errors.New("verification request was cancelled")
	ErrMissingUserID      = errors.New("user id is required")
)

// Options configures a Provider.
type Options struct {
	UserID     domain.UserID
	DeviceID   domain.DeviceID // generated when empty
	DeviceName string
	// PickleKey seals the device secrets at rest.
	PickleKey        string
	PBKDF2Iterations int
	// AutoPartner makes simulated partner devices answer requests and confirm
	// after the local confirmation, each after PartnerDelay.
	AutoPartner  bool
	PartnerDelay time.Duration
	// LightKDF lowers the secrets KDF cost. Only tests should set it.
	LightKDF bool
	Logger   zerolog.Logger
}

// deviceRecord is a device as published on the simulated server.
type deviceRecord struct {
	UserID      domain.UserID   `json:"user_id"`
	DeviceID    domain.DeviceID `json:"device_id"`
	DisplayName string          `json:"display_name,omitempty"`
	IdentityKey string          `json:"identity_key"`
	SigningKey  string          `json:"signing_key"`
}

type serverBackup struct {
	Info     domain.BackupVersionInfo `json:"info"`
	Sessions map[string][]byte        `json:"sessions"`
	Revision int                      `json:"revision"`
}

type serverDoc struct {
	Devices  []deviceRecord `json:"devices"`
	Backup   *serverBackup  `json:"backup,omitempty"`
	Versions int            `json:"versions"`
}

type deviceDoc struct {
	Verified map[string]bool                 `json:"verified"`
	Uploaded map[string]domain.BackupVersion `json:"uploaded"`
	Enabled  domain.BackupVersion            `json:"enabled_version,omitempty"`
}

type keyPair struct {
	Signing  []byte `json:"signing"`
	Identity []byte `json:"identity"`
}

type secrets struct {
	Own       keyPair                     `json:"own"`
	BackupKey []byte                      `json:"backup_key,omitempty"`
	Partners  map[domain.DeviceID]keyPair `json:"partners,omitempty"`
	Sessions  map[string][]byte           `json:"sessions,omitempty"`
}

// Provider is the local reference implementation of domain.CryptoProvider.
type Provider struct {
	userID    domain.UserID
	deviceID  domain.DeviceID
	pickleKey string
	iters     int
	auto      bool
	delay     time.Duration
	log       zerolog.Logger

	serverStore *store.DocumentFileStore
	deviceStore *store.DocumentFileStore
	secretStore *store.SecretFileStore

	mu     sync.Mutex
	server serverDoc
	device deviceDoc
	sec    secrets

	bus  *provider.Bus
	txns *xsync.Map[domain.TransactionID, *request]
	wg   sync.WaitGroup
}

// Open loads or creates the device under home.
func Open(home string, opts Options) (*Provider, error) {
	if opts.UserID == "" {
		return nil, ErrMissingUserID
	}
	if opts.DeviceID == "" {
		opts.DeviceID = newDeviceID()
	}
	if opts.PBKDF2Iterations <= 0 {
		opts.PBKDF2Iterations = crypto.DefaultPBKDF2Iterations
	}

	devDir := filepath.Join(home, "devices", string(opts.DeviceID))
	p := &Provider{
		userID:      opts.UserID,
		deviceID:    opts.DeviceID,
		pickleKey:   opts.PickleKey,
		iters:       opts.PBKDF2Iterations,
		auto:        opts.AutoPartner,
		delay:       opts.PartnerDelay,
		log:         opts.Logger.With().Str("component", "local_provider").Str("device_id", string(opts.DeviceID)).Logger(),
		serverStore: store.NewDocumentFileStore(home, "server.json"),
		deviceStore: store.NewDocumentFileStore(devDir, "device.json"),
		secretStore: store.NewSecretFileStore(devDir),
		bus:         provider.NewBus(),
		txns:        xsync.NewMap[domain.TransactionID, *request](),
	}
	if opts.LightKDF {
		p.secretStore.WithLightKDF()
	}

	if err := p.serverStore.Load(&p.server); err != nil {
		return nil, errors.Wrap(err, "load server state")
	}
	if err := p.deviceStore.Load(&p.device); err != nil {
		return nil, errors.Wrap(err, "load device state")
	}
	found, err := p.secretStore.LoadSecrets(p.pickleKey, &p.sec)
	if err != nil {
		return nil, errors.Wrap(err, "load device secrets")
	}
	p.initMaps()

	if !found {
		if err := p.register(opts.DeviceName); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) initMaps() {
	if p.device.Verified == nil {
		p.device.Verified = map[string]bool{}
	}
	if p.device.Uploaded == nil {
		p.device.Uploaded = map[string]domain.BackupVersion{}
	}
	if p.sec.Partners == nil {
		p.sec.Partners = map[domain.DeviceID]keyPair{}
	}
	if p.sec.Sessions == nil {
		p.sec.Sessions = map[string][]byte{}
	}
}

// register generates the device keys and publishes the device.
func (p *Provider) register(displayName string) error {
	keys, rec, err := generateDevice(p.userID, p.deviceID, displayName)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sec.Own = keys
	p.server.Devices = upsertDevice(p.server.Devices, rec)
	p.log.Info().Str("user_id", string(p.userID)).Msg("registered new device")
	return p.saveAllLocked()
}

// UserID returns the account this provider acts for.
func (p *Provider) UserID() domain.UserID { return p.userID }

// DeviceID returns the local device identifier.
func (p *Provider) DeviceID() domain.DeviceID { return p.deviceID }

// Fingerprint returns the fingerprint of the local device signing key.
func (p *Provider) Fingerprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return crypto.Fingerprint(ed25519.PrivateKey(p.sec.Own.Signing).Public().(ed25519.PublicKey))
}

// Subscribe registers handler for verification events of kind.
func (p *Provider) Subscribe(kind domain.VerificationEventKind, handler func(domain.VerificationEvent)) domain.Unsubscribe {
	return p.bus.Subscribe(kind, handler)
}

// Flush waits for pending uploads and simulated partner actions.
func (p *Provider) Flush() { p.wg.Wait() }

// Close waits for background work. The provider must not be used afterwards.
func (p *Provider) Close() error {
	p.Flush()
	return nil
}

// spawn runs f in a tracked goroutine.
func (p *Provider) spawn(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f()
	}()
}

func (p *Provider) saveServerLocked() error {
	return errors.Wrap(p.serverStore.Save(p.server), "save server state")
}

func (p *Provider) saveDeviceLocked() error {
	return errors.Wrap(p.deviceStore.Save(p.device), "save device state")
}

func (p *Provider) saveSecretsLocked() error {
	return errors.Wrap(p.secretStore.SaveSecrets(p.pickleKey, p.sec), "save device secrets")
}

func (p *Provider) saveAllLocked() error {
	if err := p.saveServerLocked(); err != nil {
		return err
	}
	if err := p.saveDeviceLocked(); err != nil {
		return err
	}
	return p.saveSecretsLocked()
}

func generateDevice(userID domain.UserID, deviceID domain.DeviceID, name string) (keyPair, deviceRecord, error) {
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return keyPair{}, deviceRecord{}, errors.Wrap(err, "generate signing key")
	}
	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return keyPair{}, deviceRecord{}, errors.Wrap(err, "generate identity key")
	}
	keys := keyPair{Signing: edPriv, Identity: append([]byte(nil), xPriv[:]...)}
	rec := deviceRecord{
		UserID:      userID,
		DeviceID:    deviceID,
		DisplayName: name,
		IdentityKey: crypto.B64(xPub[:]),
		SigningKey:  crypto.B64(edPub),
	}
	return keys, rec, nil
}

func upsertDevice(list []deviceRecord, rec deviceRecord) []deviceRecord {
	for i := range list {
		if list[i].UserID == rec.UserID && list[i].DeviceID == rec.DeviceID {
			list[i] = rec
			return list
		}
	}
	return append(list, rec)
}

func (p *Provider) findDeviceLocked(userID domain.UserID, deviceID domain.DeviceID) (deviceRecord, bool) {
	for _, d := range p.server.Devices {
		if d.UserID == userID && d.DeviceID == deviceID {
			return d, true
		}
	}
	return deviceRecord{}, false
}

func trustKey(userID domain.UserID, deviceID domain.DeviceID) string {
	return string(userID) + "|" + string(deviceID)
}

func newSessionID() string { return uuid.NewString() }

func newDeviceID() domain.DeviceID {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return domain.DeviceID(strings.ToUpper(id[:10]))
}

var _ domain.CryptoProvider = (*Provider)(nil)
