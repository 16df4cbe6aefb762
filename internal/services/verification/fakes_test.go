package verification_test

import (
	"context"
	"fmt"
	"sync"

	"trustkit/internal/domain"
	"trustkit/internal/provider"
	"trustkit/internal/services/verification"
)

// fakeProvider is an in-memory verification provider whose partner side is
// driven by the test through the embedded Bus.
type fakeProvider struct {
	*provider.Bus

	mu         sync.Mutex
	requests   []*fakeRequest
	requestErr error
	gates      map[int]chan struct{}
	emoji      []domain.SASEmoji
	qr         string
	verified   map[domain.DeviceID]bool
	devices    []domain.DeviceTrust
	trustErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		Bus:      provider.NewBus(),
		gates:    map[int]chan struct{}{},
		emoji:    []domain.SASEmoji{{Symbol: "🐶", Description: "Dog"}, {Symbol: "🔑", Description: "Key"}},
		qr:       "TUFUUklY",
		verified: map[domain.DeviceID]bool{},
	}
}

// gate makes the n-th RequestVerification call (1-based) block until the
// returned function is called.
func (f *fakeProvider) gate(n int) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[n] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeProvider) RequestVerification(
	ctx context.Context,
	userID domain.UserID,
	deviceID domain.DeviceID,
) (domain.VerificationRequest, error) {
	f.mu.Lock()
	n := len(f.requests) + 1
	r := &fakeRequest{
		txn:    domain.TransactionID(fmt.Sprintf("txn-%d", n)),
		user:   userID,
		device: deviceID,
		emoji:  f.emoji,
		qr:     f.qr,
	}
	f.requests = append(f.requests, r)
	gate := f.gates[n]
	err := f.requestErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (f *fakeProvider) request(i int) *fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func (f *fakeProvider) IsDeviceVerified(_ context.Context, _ domain.UserID, deviceID domain.DeviceID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trustErr != nil {
		return true, f.trustErr
	}
	return f.verified[deviceID], nil
}

func (f *fakeProvider) ListDevices(context.Context, domain.UserID) ([]domain.DeviceTrust, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.trustErr
}

func (f *fakeProvider) publish(kind domain.VerificationEventKind, txn domain.TransactionID, reason string) {
	f.Publish(domain.VerificationEvent{Kind: kind, TransactionID: txn, Reason: reason})
}

var _ verification.Provider = (*fakeProvider)(nil)

type fakeRequest struct {
	txn    domain.TransactionID
	user   domain.UserID
	device domain.DeviceID
	emoji  []domain.SASEmoji
	qr     string

	mu          sync.Mutex
	accepted    int
	cancelled   int
	acceptErr   error
	verifierErr error
	verifier    *fakeVerifier
}

func (r *fakeRequest) TransactionID() domain.TransactionID { return r.txn }
func (r *fakeRequest) OtherUserID() domain.UserID          { return r.user }
func (r *fakeRequest) OtherDeviceID() domain.DeviceID      { return r.device }

func (r *fakeRequest) Accept(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted++
	return r.acceptErr
}

func (r *fakeRequest) Cancel(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
	return nil
}

func (r *fakeRequest) StartVerifier(_ context.Context, method domain.Method) (domain.Verifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verifierErr != nil {
		return nil, r.verifierErr
	}
	v := &fakeVerifier{method: method}
	switch method {
	case domain.MethodEmoji:
		v.emoji = r.emoji
	case domain.MethodQR:
		v.qr = r.qr
	case domain.MethodNone:
	}
	r.verifier = v
	return v, nil
}

func (r *fakeRequest) cancels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *fakeRequest) currentVerifier() *fakeVerifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifier
}

type fakeVerifier struct {
	method domain.Method
	emoji  []domain.SASEmoji
	qr     string

	mu         sync.Mutex
	confirmed  int
	cancelled  int
	confirmErr error
}

func (v *fakeVerifier) Method() domain.Method    { return v.method }
func (v *fakeVerifier) Emoji() []domain.SASEmoji { return v.emoji }
func (v *fakeVerifier) QRCode() string           { return v.qr }

func (v *fakeVerifier) Confirm(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.confirmed++
	return v.confirmErr
}

func (v *fakeVerifier) Cancel(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled++
	return nil
}

func (v *fakeVerifier) cancels() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancelled
}

// events are the handler invocations seen so far.
type events struct {
	phases    []domain.Phase
	completed []string
	failed    []string
	cancelled int
	incoming  []domain.VerificationRequest
}

// recorder captures handler invocations.
type recorder struct {
	mu sync.Mutex
	ev events
}

func (r *recorder) handlers() verification.Handlers {
	return verification.Handlers{
		OnStateChange: func(st domain.VerificationState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ev.phases = append(r.ev.phases, st.Phase)
		},
		OnVerificationComplete: func(deviceID domain.DeviceID, userID domain.UserID) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ev.completed = append(r.ev.completed, string(userID)+"/"+string(deviceID))
		},
		OnVerificationFailed: func(msg string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ev.failed = append(r.ev.failed, msg)
		},
		OnVerificationCancelled: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ev.cancelled++
		},
		OnIncomingRequest: func(req domain.VerificationRequest) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ev.incoming = append(r.ev.incoming, req)
		},
	}
}

func (r *recorder) snapshot() events {
	r.mu.Lock()
	defer r.mu.Unlock()
	return events{
		phases:    append([]domain.Phase(nil), r.ev.phases...),
		completed: append([]string(nil), r.ev.completed...),
		failed:    append([]string(nil), r.ev.failed...),
		cancelled: r.ev.cancelled,
		incoming:  append([]domain.VerificationRequest(nil), r.ev.incoming...),
	}
}
