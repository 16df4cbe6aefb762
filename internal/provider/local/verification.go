package local

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"trustkit/internal/crypto"
	"trustkit/internal/domain"
)

const (
	sasInfoPrefix = "MATRIX_KEY_VERIFICATION_SAS"
	qrSecretSize  = 16
)

var (
	errNotIncoming   = errors.New("only incoming requests can be accepted")
	errVerifySelf    = errors.New("cannot verify the local device")
	errNoOtherDevice = errors.New("no other device answered the request")
)

// request is the provider side of one verification transaction.
type request struct {
	p         *Provider
	txn       domain.TransactionID
	otherUser domain.UserID
	incoming  bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu          sync.Mutex
	otherDevice domain.DeviceID
	cancelled   bool
	verifier    *verifier
}

func newRequest(p *Provider, userID domain.UserID, deviceID domain.DeviceID, incoming bool) *request {
	return &request{
		p:           p,
		txn:         domain.TransactionID(uuid.NewString()),
		otherUser:   userID,
		otherDevice: deviceID,
		incoming:    incoming,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (r *request) TransactionID() domain.TransactionID { return r.txn }

func (r *request) OtherUserID() domain.UserID { return r.otherUser }

func (r *request) OtherDeviceID() domain.DeviceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.otherDevice
}

// Accept answers an incoming request.
func (r *request) Accept(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.incoming {
		return errNotIncoming
	}
	if r.isCancelled() {
		return ErrRequestCancelled
	}
	r.markReady()
	return nil
}

// Cancel abandons the request locally. The partner is not notified through
// the event bus; local cancellations do not echo.
func (r *request) Cancel(ctx context.Context) error {
	r.cancel()
	r.p.txns.Delete(r.txn)
	r.p.log.Debug().Str("txn", string(r.txn)).Msg("verification cancelled locally")
	return nil
}

// StartVerifier waits until both sides are ready, then derives the SAS emoji
// or the QR payload.
func (r *request) StartVerifier(ctx context.Context, method domain.Method) (domain.Verifier, error) {
	select {
	case <-r.ready:
	case <-r.done:
		return nil, ErrRequestCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	v, err := r.p.newVerifier(r, method)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return nil, ErrRequestCancelled
	}
	r.verifier = v
	return v, nil
}

func (r *request) markReady() { r.readyOnce.Do(func() { close(r.ready) }) }

func (r *request) cancel() {
	r.mu.Lock()
	r.cancelled = true
	v := r.verifier
	r.mu.Unlock()
	if v != nil {
		v.mu.Lock()
		v.cancelled = true
		v.mu.Unlock()
	}
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *request) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *request) currentVerifier() *verifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifier
}

// verifier holds the short authentication data of one transaction as seen
// by both the local device and the simulated partner.
type verifier struct {
	req          *request
	method       domain.Method
	emoji        []domain.SASEmoji
	partnerEmoji []domain.SASEmoji
	qr           string

	mu               sync.Mutex
	localConfirmed   bool
	partnerConfirmed bool
	cancelled        bool
}

func (v *verifier) Method() domain.Method { return v.method }

func (v *verifier) Emoji() []domain.SASEmoji { return append([]domain.SASEmoji(nil), v.emoji...) }

func (v *verifier) QRCode() string { return v.qr }

// Confirm records the local attestation. Trust is only granted once the
// partner has confirmed as well.
func (v *verifier) Confirm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	if v.cancelled {
		v.mu.Unlock()
		return ErrRequestCancelled
	}
	v.localConfirmed = true
	both := v.partnerConfirmed
	v.mu.Unlock()

	p := v.req.p
	if both {
		return p.complete(v.req)
	}
	if p.auto {
		txn := v.req.txn
		p.spawn(func() {
			if !p.partnerWait(v.req) {
				return
			}
			if err := p.PartnerConfirm(txn); err != nil {
				p.log.Warn().Err(err).Str("txn", string(txn)).Msg("simulated partner confirm")
			}
		})
	}
	return nil
}

func (v *verifier) Cancel(ctx context.Context) error { return v.req.Cancel(ctx) }

// RequestVerification starts an outgoing request to deviceID of userID, or
// to every other device of userID when deviceID is empty.
func (p *Provider) RequestVerification(
	ctx context.Context,
	userID domain.UserID,
	deviceID domain.DeviceID,
) (domain.VerificationRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if userID == p.userID && deviceID == p.deviceID {
		return nil, errVerifySelf
	}
	if deviceID != "" {
		p.mu.Lock()
		_, ok := p.findDeviceLocked(userID, deviceID)
		p.mu.Unlock()
		if !ok {
			return nil, errors.Wrapf(ErrUnknownDevice, "%s %s", userID, deviceID)
		}
	}

	r := newRequest(p, userID, deviceID, false)
	p.txns.Store(r.txn, r)
	p.log.Info().
		Str("txn", string(r.txn)).
		Str("other_user_id", string(userID)).
		Str("other_device_id", string(deviceID)).
		Msg("verification requested")

	if p.auto {
		p.spawn(func() {
			if !p.partnerWait(r) {
				return
			}
			if err := p.PartnerAccept(r.txn, deviceID); err != nil {
				p.log.Warn().Err(err).Str("txn", string(r.txn)).Msg("simulated partner accept")
			}
		})
	}
	return r, nil
}

// complete grants trust once both sides confirmed and retires the transaction.
func (p *Provider) complete(r *request) error {
	dev := r.OtherDeviceID()
	if err := p.markVerified(r.otherUser, dev); err != nil {
		return err
	}
	p.txns.Delete(r.txn)
	return nil
}

func (p *Provider) newVerifier(r *request, method domain.Method) (*verifier, error) {
	dev := r.OtherDeviceID()
	if dev == "" {
		return nil, errNoOtherDevice
	}

	p.mu.Lock()
	own, _ := p.findDeviceLocked(p.userID, p.deviceID)
	other, ok := p.findDeviceLocked(r.otherUser, dev)
	p.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%s %s", r.otherUser, dev)
	}

	v := &verifier{req: r, method: method}
	switch method {
	case domain.MethodEmoji:
		ours, theirs, err := sasPair(p.userID, p.deviceID, r.otherUser, dev, r.txn)
		if err != nil {
			return nil, err
		}
		v.emoji, v.partnerEmoji = ours, theirs
	case domain.MethodQR:
		qr, err := qrPayload(p.userID, r, own, other)
		if err != nil {
			return nil, err
		}
		v.qr = qr
	case domain.MethodNone:
		return nil, errors.New("verification method is required")
	default:
		return nil, errors.Errorf("unsupported verification method %s", method)
	}
	return v, nil
}

// sasPair runs the SAS key agreement for both ends of the exchange and
// returns the emoji each side would display.
func sasPair(
	ownUser domain.UserID, ownDevice domain.DeviceID,
	otherUser domain.UserID, otherDevice domain.DeviceID,
	txn domain.TransactionID,
) ([]domain.SASEmoji, []domain.SASEmoji, error) {
	ownPriv, ownPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate sas key")
	}
	partnerPriv, partnerPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate sas key")
	}
	defer crypto.Wipe(ownPriv[:], partnerPriv[:])

	info := strings.Join([]string{
		sasInfoPrefix,
		string(ownUser), string(ownDevice), crypto.B64(ownPub[:]),
		string(otherUser), string(otherDevice), crypto.B64(partnerPub[:]),
		string(txn),
	}, "|")

	ownSecret, err := crypto.DH(ownPriv[:], partnerPub[:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "sas key agreement")
	}
	partnerSecret, err := crypto.DH(partnerPriv[:], ownPub[:])
	if err != nil {
		return nil, nil, errors.Wrap(err, "sas key agreement")
	}
	defer crypto.Wipe(ownSecret, partnerSecret)

	ours, err := crypto.SASEmoji(ownSecret, info)
	if err != nil {
		return nil, nil, err
	}
	theirs, err := crypto.SASEmoji(partnerSecret, info)
	if err != nil {
		return nil, nil, err
	}
	return ours, theirs, nil
}

func qrPayload(ownUser domain.UserID, r *request, own, other deviceRecord) (string, error) {
	var k1, k2 [ed25519.PublicKeySize]byte
	for _, pair := range []struct {
		dst *[ed25519.PublicKeySize]byte
		src string
	}{{&k1, own.SigningKey}, {&k2, other.SigningKey}} {
		b, err := crypto.UnB64(pair.src)
		if err != nil || len(b) != ed25519.PublicKeySize {
			return "", errors.New("malformed device signing key")
		}
		copy(pair.dst[:], b)
	}

	secret := make([]byte, qrSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return "", errors.Wrap(err, "generate qr secret")
	}
	mode := crypto.QRModeOwnUserCrossSigningUntrusted
	if r.otherUser == ownUser {
		mode = crypto.QRModeOwnUserCrossSigningTrusted
	}
	return crypto.QRPayload(mode, string(r.txn), k1, k2, secret)
}
