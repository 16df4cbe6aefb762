package verification

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"trustkit/internal/clock"
	"trustkit/internal/domain"
	"trustkit/internal/metrics"
)

const (
	// DefaultPartnerTimeout bounds the wait for the partner's confirmation.
	DefaultPartnerTimeout = 3 * time.Minute
	remoteCancelTimeout   = 10 * time.Second
	partnerCancelledMsg   = "the other device cancelled the verification"
)

// Provider is the part of the crypto provider the service consumes.
type Provider interface {
	domain.VerificationProvider
	domain.DeviceProvider
}

// Handlers are the callbacks exposed to the UI layer. Any of them may be nil.
type Handlers struct {
	OnStateChange           func(domain.VerificationState)
	OnVerificationComplete  func(deviceID domain.DeviceID, userID domain.UserID)
	OnVerificationFailed    func(message string)
	OnVerificationCancelled func()
	OnIncomingRequest       func(domain.VerificationRequest)
}

// Options configures a Service.
type Options struct {
	Handlers       Handlers
	PartnerTimeout time.Duration
	Clock          clock.Clock
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// handles are the provider objects of a verification being torn down.
type handles struct {
	request  domain.VerificationRequest
	verifier domain.Verifier
}

// Service is the device verification state machine.
type Service struct {
	provider Provider
	h        Handlers
	timeout  time.Duration
	clock    clock.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu               sync.Mutex
	state            domain.VerificationState
	txn              domain.TransactionID
	gen              uint64
	localConfirmed   bool
	partnerConfirmed bool
	timer            clock.Timer
	unsubs           []domain.Unsubscribe
	destroyed        bool

	cancels sync.WaitGroup
}

// New returns an idle service subscribed to the provider's verification
// events. Call Destroy to unsubscribe.
func New(p Provider, opts Options) *Service {
	if opts.PartnerTimeout <= 0 {
		opts.PartnerTimeout = DefaultPartnerTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	s := &Service{
		provider: p,
		h:        opts.Handlers,
		timeout:  opts.PartnerTimeout,
		clock:    opts.Clock,
		log:      opts.Logger.With().Str("component", "verification").Logger(),
		metrics:  opts.Metrics,
	}
	s.unsubs = []domain.Unsubscribe{
		p.Subscribe(domain.EventRequestReceived, s.onRequestReceived),
		p.Subscribe(domain.EventRequestReady, s.onRequestReady),
		p.Subscribe(domain.EventPartnerConfirmed, s.onPartnerConfirmed),
		p.Subscribe(domain.EventCancelled, s.onCancelled),
	}
	return s
}

// State returns a snapshot of the current state.
func (s *Service) State() domain.VerificationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// StartVerification requests verification of deviceID of userID, or of any
// device of userID when deviceID is empty. A verification already in flight
// is superseded and cancelled.
func (s *Service) StartVerification(ctx context.Context, userID domain.UserID, deviceID domain.DeviceID) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	old := s.resetLocked(domain.VerificationState{Phase: domain.PhaseRequesting, IsVerifying: true})
	gen := s.gen
	fx := effects{s.notifyLocked()}
	s.mu.Unlock()

	s.cancelRemote(ctx, old)
	fx.run()

	req, err := s.provider.RequestVerification(ctx, userID, deviceID)

	s.mu.Lock()
	if stale := s.staleLocked(gen); stale != nil {
		s.mu.Unlock()
		if req != nil {
			s.discard(ctx, stale, handles{request: req})
		}
		return stale
	}
	if err != nil {
		err = errors.Wrap(err, "request verification")
		fx, h := s.failLocked(err)
		s.mu.Unlock()
		s.cancelRemote(ctx, h)
		fx.run()
		return err
	}
	txn := req.TransactionID()
	s.state.Request = req
	s.txn = txn
	s.state.Phase = domain.PhaseReady
	fx = effects{s.notifyLocked()}
	s.mu.Unlock()

	s.log.Info().
		Str("txn", string(txn)).
		Str("other_user_id", string(userID)).
		Str("other_device_id", string(deviceID)).
		Msg("verification request created")
	fx.run()
	return nil
}

// AcceptVerification accepts an inbound request and moves to ready. A
// verification already in flight is superseded.
func (s *Service) AcceptVerification(ctx context.Context, request domain.VerificationRequest) error {
	if request == nil {
		return ErrNoActiveRequest
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	gen := s.gen
	s.mu.Unlock()

	err := request.Accept(ctx)

	s.mu.Lock()
	if stale := s.staleLocked(gen); stale != nil {
		s.mu.Unlock()
		s.discard(ctx, stale, handles{request: request})
		return stale
	}
	old := s.resetLocked(domain.VerificationState{
		Phase:       domain.PhaseReady,
		Request:     request,
		IsVerifying: true,
	})
	if old.request == request {
		old = handles{}
	}
	s.txn = request.TransactionID()

	if err != nil {
		err = errors.Wrap(err, "accept verification")
		fx, h := s.failLocked(err)
		s.mu.Unlock()
		s.cancelRemote(ctx, old)
		s.cancelRemote(ctx, h)
		fx.run()
		return err
	}
	fx := effects{s.notifyLocked()}
	s.mu.Unlock()

	s.log.Info().Str("txn", string(request.TransactionID())).Msg("verification request accepted")
	s.cancelRemote(ctx, old)
	fx.run()
	return nil
}

// StartEmojiVerification begins SAS verification and shows the emoji.
func (s *Service) StartEmojiVerification(ctx context.Context) error {
	return s.startVerifier(ctx, domain.MethodEmoji)
}

// StartQRVerification begins QR verification and shows the QR payload.
func (s *Service) StartQRVerification(ctx context.Context) error {
	return s.startVerifier(ctx, domain.MethodQR)
}

func (s *Service) startVerifier(ctx context.Context, method domain.Method) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state.Request == nil {
		s.mu.Unlock()
		return ErrNoActiveRequest
	}
	if s.state.Phase != domain.PhaseReady {
		phase := s.state.Phase
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidPhase, "start %s verification in phase %s", method, phase)
	}
	req, gen := s.state.Request, s.gen
	s.mu.Unlock()

	v, err := req.StartVerifier(ctx, method)
	if err == nil && !hasSASData(v, method) {
		err = ErrNoSASData
	}

	s.mu.Lock()
	if stale := s.staleLocked(gen); stale != nil {
		s.mu.Unlock()
		if v != nil {
			s.discard(ctx, stale, handles{verifier: v})
		}
		return stale
	}
	if err != nil {
		err = errors.Wrapf(err, "start %s verification", method)
		fx, h := s.failLocked(err)
		s.mu.Unlock()
		if v != nil {
			h.verifier = v
		}
		s.cancelRemote(ctx, h)
		fx.run()
		return err
	}

	s.state.Phase = domain.PhaseShowingSAS
	s.state.Method = method
	s.state.Verifier = v
	switch method {
	case domain.MethodEmoji:
		s.state.Emoji = v.Emoji()
	case domain.MethodQR:
		s.state.QRCode = v.QRCode()
	case domain.MethodNone:
	}
	fx := effects{s.notifyLocked()}
	s.mu.Unlock()

	s.log.Info().Str("txn", string(req.TransactionID())).Str("method", method.String()).Msg("showing short authentication data")
	fx.run()
	return nil
}

func hasSASData(v domain.Verifier, method domain.Method) bool {
	if v == nil {
		return false
	}
	switch method {
	case domain.MethodEmoji:
		return len(v.Emoji()) > 0
	case domain.MethodQR:
		return v.QRCode() != ""
	case domain.MethodNone:
	}
	return false
}

// ConfirmEmojiMatch records that the user saw matching emoji on both
// devices. The verification completes only once the partner confirms too.
func (s *Service) ConfirmEmojiMatch(ctx context.Context) error {
	return s.confirm(ctx, domain.MethodEmoji)
}

// ConfirmQRScanned records that the partner's scan of the QR code was
// acknowledged by the user. The partner must confirm as well.
func (s *Service) ConfirmQRScanned(ctx context.Context) error {
	return s.confirm(ctx, domain.MethodQR)
}

func (s *Service) confirm(ctx context.Context, method domain.Method) error {
	s.mu.Lock()
	if err := s.usableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.state.Verifier == nil {
		s.mu.Unlock()
		return ErrNoActiveVerifier
	}
	if s.state.Phase != domain.PhaseShowingSAS || s.state.Method != method {
		phase, current := s.state.Phase, s.state.Method
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidPhase, "confirm %s in phase %s with method %s", method, phase, current)
	}
	v, gen := s.state.Verifier, s.gen
	s.mu.Unlock()

	err := v.Confirm(ctx)

	s.mu.Lock()
	if stale := s.staleLocked(gen); stale != nil {
		s.mu.Unlock()
		return stale
	}
	if err != nil {
		err = errors.Wrap(err, "confirm verification")
		fx, h := s.failLocked(err)
		s.mu.Unlock()
		s.cancelRemote(ctx, h)
		fx.run()
		return err
	}

	s.localConfirmed = true
	var fx effects
	if s.partnerConfirmed {
		fx = s.completeLocked()
	} else {
		s.state.Phase = domain.PhaseWaitingForPartner
		s.state.Emoji = nil
		s.state.QRCode = ""
		s.timer = s.clock.AfterFunc(s.timeout, func() { s.onPartnerTimeout(gen) })
		fx = effects{s.notifyLocked()}
	}
	s.mu.Unlock()

	fx.run()
	return nil
}

// CancelVerification moves to cancelled immediately and notifies the partner
// in the background. Failure to reach the partner is only logged.
func (s *Service) CancelVerification(ctx context.Context) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	h := s.resetLocked(domain.VerificationState{Phase: domain.PhaseCancelled})
	fx := effects{s.notifyLocked()}
	if cb := s.h.OnVerificationCancelled; cb != nil {
		fx = append(fx, cb)
	}
	s.mu.Unlock()

	s.metrics.Verification(metrics.OutcomeCancelled)
	s.log.Info().Msg("verification cancelled")
	s.cancelRemote(ctx, h)
	fx.run()
}

// IsDeviceVerified queries the provider. Errors count as unverified.
func (s *Service) IsDeviceVerified(ctx context.Context, userID domain.UserID, deviceID domain.DeviceID) bool {
	ok, err := s.provider.IsDeviceVerified(ctx, userID, deviceID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", string(userID)).Str("device_id", string(deviceID)).Msg("check device trust")
		return false
	}
	return ok
}

// ListDevices partitions the devices of userID into verified and unverified.
func (s *Service) ListDevices(ctx context.Context, userID domain.UserID) (domain.DeviceList, error) {
	devices, err := s.provider.ListDevices(ctx, userID)
	if err != nil {
		return domain.DeviceList{}, errors.Wrap(err, "list devices")
	}
	list := domain.DeviceList{
		Verified:   []domain.DeviceInfo{},
		Unverified: []domain.DeviceInfo{},
	}
	for _, d := range devices {
		if d.Verified {
			list.Verified = append(list.Verified, d.Device)
		} else {
			list.Unverified = append(list.Unverified, d.Device)
		}
	}
	return list, nil
}

// Destroy unsubscribes from the provider and resets to idle without
// contacting the partner or firing handlers.
func (s *Service) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.resetLocked(domain.VerificationState{})
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Wait blocks until background partner notifications have finished.
func (s *Service) Wait() { s.cancels.Wait() }

func (s *Service) onRequestReceived(ev domain.VerificationEvent) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed || ev.Request == nil {
		return
	}
	s.log.Info().
		Str("txn", string(ev.TransactionID)).
		Str("other_user_id", string(ev.Request.OtherUserID())).
		Msg("incoming verification request")
	if cb := s.h.OnIncomingRequest; cb != nil {
		cb(ev.Request)
	}
}

func (s *Service) onRequestReady(ev domain.VerificationEvent) {
	s.mu.Lock()
	if !s.matchesLocked(ev.TransactionID) || s.state.Phase != domain.PhaseRequesting {
		s.mu.Unlock()
		return
	}
	s.state.Phase = domain.PhaseReady
	fx := effects{s.notifyLocked()}
	s.mu.Unlock()
	fx.run()
}

func (s *Service) onPartnerConfirmed(ev domain.VerificationEvent) {
	s.mu.Lock()
	if !s.matchesLocked(ev.TransactionID) {
		s.mu.Unlock()
		return
	}
	var fx effects
	switch s.state.Phase {
	case domain.PhaseReady, domain.PhaseShowingSAS:
		s.partnerConfirmed = true
	case domain.PhaseWaitingForPartner:
		s.partnerConfirmed = true
		if s.localConfirmed {
			fx = s.completeLocked()
		}
	case domain.PhaseIdle, domain.PhaseRequesting, domain.PhaseDone, domain.PhaseCancelled:
	}
	s.mu.Unlock()
	fx.run()
}

func (s *Service) onCancelled(ev domain.VerificationEvent) {
	s.mu.Lock()
	if !s.matchesLocked(ev.TransactionID) || s.state.Phase.Terminal() {
		s.mu.Unlock()
		return
	}
	msg := ev.Reason
	if msg == "" {
		msg = partnerCancelledMsg
	}
	s.resetLocked(domain.VerificationState{Phase: domain.PhaseCancelled, Error: msg})
	fx := effects{s.notifyLocked()}
	if cb := s.h.OnVerificationFailed; cb != nil {
		fx = append(fx, func() { cb(msg) })
	}
	s.mu.Unlock()

	s.metrics.Verification(metrics.OutcomeCancelled)
	s.log.Info().Str("txn", string(ev.TransactionID)).Str("reason", msg).Msg("verification cancelled by partner")
	fx.run()
}

func (s *Service) onPartnerTimeout(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state.Phase != domain.PhaseWaitingForPartner {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	msg := ErrPartnerTimeout.Error()
	h := s.resetLocked(domain.VerificationState{Phase: domain.PhaseIdle, Error: msg})
	fx := effects{s.notifyLocked()}
	if cb := s.h.OnVerificationFailed; cb != nil {
		fx = append(fx, func() { cb(msg) })
	}
	s.mu.Unlock()

	s.metrics.Verification(metrics.OutcomeTimeout)
	s.log.Warn().Dur("timeout", s.timeout).Msg("partner did not confirm in time")
	s.cancelRemote(context.Background(), h)
	fx.run()
}

// resetLocked replaces the state, starts a new generation and returns the
// provider handles of a verification that was still in flight.
func (s *Service) resetLocked(next domain.VerificationState) handles {
	var old handles
	if !s.state.Phase.Terminal() {
		old = handles{request: s.state.Request, verifier: s.state.Verifier}
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = next
	s.txn = ""
	s.localConfirmed = false
	s.partnerConfirmed = false
	return old
}

// failLocked moves to idle with the error recorded. No emoji, QR payload or
// verifier survives the transition.
func (s *Service) failLocked(err error) (effects, handles) {
	msg := err.Error()
	h := s.resetLocked(domain.VerificationState{Phase: domain.PhaseIdle, Error: msg})
	fx := effects{s.notifyLocked()}
	if cb := s.h.OnVerificationFailed; cb != nil {
		fx = append(fx, func() { cb(msg) })
	}
	s.metrics.Verification(metrics.OutcomeFailed)
	s.log.Error().Err(err).Msg("verification failed")
	return fx, h
}

// completeLocked moves to done. Only reached with both confirmations.
func (s *Service) completeLocked() effects {
	req, method, txn := s.state.Request, s.state.Method, s.txn
	s.resetLocked(domain.VerificationState{Phase: domain.PhaseDone, Method: method})
	fx := effects{s.notifyLocked()}
	if cb := s.h.OnVerificationComplete; cb != nil && req != nil {
		fx = append(fx, func() { cb(req.OtherDeviceID(), req.OtherUserID()) })
	}
	s.metrics.Verification(metrics.OutcomeDone)
	s.log.Info().Str("txn", string(txn)).Msg("verification complete")
	return fx
}

// staleLocked reports why a provider result for generation gen must be
// discarded, or nil if it is still current.
func (s *Service) staleLocked(gen uint64) error {
	switch {
	case s.destroyed:
		return ErrDestroyed
	case s.gen == gen:
		return nil
	case s.state.Phase == domain.PhaseCancelled:
		return ErrVerificationCancelled
	}
	return ErrSuperseded
}

func (s *Service) usableLocked() error {
	if s.destroyed {
		return ErrDestroyed
	}
	return nil
}

func (s *Service) matchesLocked(txn domain.TransactionID) bool {
	return !s.destroyed && s.txn != "" && s.txn == txn
}

func (s *Service) notifyLocked() func() {
	cb := s.h.OnStateChange
	if cb == nil {
		return nil
	}
	snapshot := s.state.Clone()
	return func() { cb(snapshot) }
}

// cancelRemote tells the partner a verification was abandoned, preferring
// the verifier over the raw request. It does not block the caller.
func (s *Service) cancelRemote(ctx context.Context, h handles) {
	if h.request == nil && h.verifier == nil {
		return
	}
	s.cancels.Add(1)
	go func() {
		defer s.cancels.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteCancelTimeout)
		defer cancel()

		var err error
		if h.verifier != nil {
			err = h.verifier.Cancel(cctx)
		} else {
			err = h.request.Cancel(cctx)
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("notify partner of cancellation")
		}
	}()
}

// discard cancels provider objects that arrived for a stale generation.
// After Destroy the provider is left alone.
func (s *Service) discard(ctx context.Context, reason error, h handles) {
	if errors.Is(reason, ErrDestroyed) {
		return
	}
	s.cancelRemote(ctx, h)
}

// effects are handler calls deferred until the state lock is released.
type effects []func()

func (fx effects) run() {
	for _, f := range fx {
		if f != nil {
			f()
		}
	}
}

var _ domain.VerificationService = (*Service)(nil)
