package detector

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"trustkit/internal/clock"
	"trustkit/internal/domain"
)

// Keys used in the state stores.
const (
	KeyFirstLoginCompleted = "trustkit.first_login_completed"
	KeyLastLoginAt         = "trustkit.last_login_at"
	KeyDeviceRegistry      = "trustkit.device_registry"
	KeyDevicePromptShown   = "trustkit.device_prompt_shown"
)

const flagSet = "true"

// ErrEmptyDeviceID is returned when an operation is called without a device ID.
var ErrEmptyDeviceID = errors.New("device id is required")

// registry maps device IDs to their bookkeeping entries.
type registry map[domain.DeviceID]domain.DeviceRegistryEntry

// Options configures a Service.
type Options struct {
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Service is the first-login and new-device detector.
type Service struct {
	durable domain.StateStore
	session domain.StateStore
	clock   clock.Clock
	log     zerolog.Logger

	mu sync.Mutex
}

// New returns a detector that keeps cross-session state in durable and
// per-session flags in session.
func New(durable, session domain.StateStore, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Service{
		durable: durable,
		session: session,
		clock:   opts.Clock,
		log:     opts.Logger.With().Str("component", "detector").Logger(),
	}
}

// Detect registers deviceID, refreshing its last-seen time, and reports
// whether the verification prompt should be shown. Store failures are logged
// and treated as absent state; they never hide a prompt.
func (s *Service) Detect(deviceID domain.DeviceID) (domain.LoginState, error) {
	if deviceID == "" {
		return domain.LoginState{}, ErrEmptyDeviceID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.LoginState{
		IsFirstLogin:         !s.flag(s.durable, KeyFirstLoginCompleted),
		HasShownDevicePrompt: s.flag(s.session, KeyDevicePromptShown),
	}

	reg := s.loadRegistry()
	now := s.clock.Now().UTC()
	entry, known := reg[deviceID]
	if !known {
		entry = domain.DeviceRegistryEntry{DeviceID: deviceID, FirstSeenAt: now}
	}
	entry.LastSeenAt = now
	reg[deviceID] = entry
	st.IsNewDevice = !known
	st.Device = entry

	if err := s.saveRegistry(reg); err != nil {
		s.log.Warn().Err(err).Str("device_id", string(deviceID)).Msg("persist device registry")
	}

	switch {
	case st.HasShownDevicePrompt:
		st.Reason = domain.PromptNone
	case st.IsFirstLogin:
		st.Reason = domain.PromptFirstLogin
	case st.IsNewDevice:
		st.Reason = domain.PromptNewDevice
	default:
		st.Reason = domain.PromptNone
	}

	s.log.Debug().
		Str("device_id", string(deviceID)).
		Bool("first_login", st.IsFirstLogin).
		Bool("new_device", st.IsNewDevice).
		Str("reason", string(st.Reason)).
		Msg("login detected")
	return st, nil
}

// MarkPromptShown suppresses further prompts for the rest of the session.
func (s *Service) MarkPromptShown() error {
	return errors.Wrap(s.session.Set(KeyDevicePromptShown, flagSet), "mark prompt shown")
}

// CompleteFirstLogin records that the first login finished, together with
// the login time.
func (s *Service) CompleteFirstLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.durable.Set(KeyFirstLoginCompleted, flagSet); err != nil {
		return errors.Wrap(err, "complete first login")
	}
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)
	return errors.Wrap(s.durable.Set(KeyLastLoginAt, now), "record last login")
}

// LastLoginAt returns the time recorded by CompleteFirstLogin, if any.
func (s *Service) LastLoginAt() (time.Time, bool) {
	v, ok, err := s.durable.Get(KeyLastLoginAt)
	if err != nil || !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RecordVerification marks deviceID as having completed verification.
func (s *Service) RecordVerification(deviceID domain.DeviceID) error {
	return s.update(deviceID, func(e *domain.DeviceRegistryEntry, _ time.Time) {
		e.HasCompletedVerification = true
		e.SkippedAt = nil
	})
}

// RecordSkip records that the user dismissed the prompt for deviceID. A skip
// does not count as verification.
func (s *Service) RecordSkip(deviceID domain.DeviceID) error {
	return s.update(deviceID, func(e *domain.DeviceRegistryEntry, now time.Time) {
		e.SkippedAt = &now
	})
}

// Devices returns the registry entries ordered by device ID.
func (s *Service) Devices() []domain.DeviceRegistryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg := s.loadRegistry()
	out := make([]domain.DeviceRegistryEntry, 0, len(reg))
	for _, e := range reg {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Reset clears the registry and every flag, durable and session-scoped.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{KeyDeviceRegistry, KeyFirstLoginCompleted, KeyLastLoginAt} {
		if err := s.durable.Delete(key); err != nil {
			return errors.Wrapf(err, "reset %s", key)
		}
	}
	if err := s.session.Delete(KeyDevicePromptShown); err != nil {
		return errors.Wrap(err, "reset prompt flag")
	}
	s.log.Info().Msg("login state reset")
	return nil
}

func (s *Service) update(deviceID domain.DeviceID, fn func(*domain.DeviceRegistryEntry, time.Time)) error {
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reg := s.loadRegistry()
	now := s.clock.Now().UTC()
	entry, ok := reg[deviceID]
	if !ok {
		entry = domain.DeviceRegistryEntry{DeviceID: deviceID, FirstSeenAt: now, LastSeenAt: now}
	}
	fn(&entry, now)
	reg[deviceID] = entry
	return errors.Wrapf(s.saveRegistry(reg), "update device %s", deviceID)
}

func (s *Service) flag(store domain.StateStore, key string) bool {
	v, ok, err := store.Get(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("read flag")
		return false
	}
	return ok && v == flagSet
}

// loadRegistry returns the persisted registry, or an empty one when it is
// missing or unreadable.
func (s *Service) loadRegistry() registry {
	reg := registry{}
	raw, ok, err := s.durable.Get(KeyDeviceRegistry)
	if err != nil {
		s.log.Warn().Err(err).Msg("read device registry")
		return reg
	}
	if !ok || raw == "" {
		return reg
	}
	if err := json.Unmarshal([]byte(raw), &reg); err != nil || reg == nil {
		s.log.Warn().Err(err).Msg("device registry is corrupt, starting empty")
		return registry{}
	}
	for id, e := range reg {
		e.DeviceID = id
		reg[id] = e
	}
	return reg
}

func (s *Service) saveRegistry(reg registry) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return errors.Wrap(err, "encode device registry")
	}
	return s.durable.Set(KeyDeviceRegistry, string(raw))
}

var _ domain.LoginDetector = (*Service)(nil)
