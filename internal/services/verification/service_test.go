package verification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustkit/internal/clock"
	"trustkit/internal/domain"
	"trustkit/internal/services/verification"
)

const (
	bob    = domain.UserID("@bob:example.org")
	bobDev = domain.DeviceID("BOBPHONE")
)

var (
	ctx     = context.Background()
	errBoom = errors.New("boom")
)

type harness struct {
	p   *fakeProvider
	rec *recorder
	clk *clock.FakeClock
	svc *verification.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		p:   newFakeProvider(),
		rec: &recorder{},
		clk: clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.svc = verification.New(h.p, verification.Options{
		Handlers:       h.rec.handlers(),
		PartnerTimeout: 2 * time.Minute,
		Clock:          h.clk,
		Logger:         zerolog.Nop(),
	})
	t.Cleanup(func() {
		h.svc.Destroy()
		h.svc.Wait()
	})
	return h
}

// toShowingSAS drives a fresh harness to showing_sas with method.
func (h *harness) toShowingSAS(t *testing.T, method domain.Method) *fakeRequest {
	t.Helper()
	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
	switch method {
	case domain.MethodEmoji:
		require.NoError(t, h.svc.StartEmojiVerification(ctx))
	case domain.MethodQR:
		require.NoError(t, h.svc.StartQRVerification(ctx))
	case domain.MethodNone:
		t.Fatal("method required")
	}
	require.Equal(t, domain.PhaseShowingSAS, h.svc.State().Phase)
	return h.p.request(0)
}

func TestEmoji_RequiresMutualConfirmation(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodEmoji)

	st := h.svc.State()
	assert.Equal(t, domain.MethodEmoji, st.Method)
	assert.Len(t, st.Emoji, 2)
	assert.Empty(t, st.QRCode)
	assert.NotNil(t, st.Verifier)
	assert.True(t, st.IsVerifying)

	require.NoError(t, h.svc.ConfirmEmojiMatch(ctx))
	st = h.svc.State()
	assert.Equal(t, domain.PhaseWaitingForPartner, st.Phase)
	assert.Nil(t, st.Emoji)
	assert.Empty(t, h.rec.snapshot().completed)
	assert.Equal(t, 1, req.currentVerifier().confirmed)

	h.p.publish(domain.EventPartnerConfirmed, req.txn, "")

	st = h.svc.State()
	assert.Equal(t, domain.PhaseDone, st.Phase)
	assert.False(t, st.IsVerifying)
	assert.Nil(t, st.Verifier)

	ev := h.rec.snapshot()
	assert.Equal(t, []string{"@bob:example.org/BOBPHONE"}, ev.completed)
	assert.Equal(t, []domain.Phase{
		domain.PhaseRequesting,
		domain.PhaseReady,
		domain.PhaseShowingSAS,
		domain.PhaseWaitingForPartner,
		domain.PhaseDone,
	}, ev.phases)
	assert.Zero(t, h.clk.Pending())
}

func TestEmoji_PartnerConfirmationAloneNeverCompletes(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodEmoji)

	h.p.publish(domain.EventPartnerConfirmed, req.txn, "")
	h.p.publish(domain.EventPartnerConfirmed, req.txn, "")

	assert.Equal(t, domain.PhaseShowingSAS, h.svc.State().Phase)
	assert.Empty(t, h.rec.snapshot().completed)

	// The partner confirmed first; the local confirmation completes.
	require.NoError(t, h.svc.ConfirmEmojiMatch(ctx))
	assert.Equal(t, domain.PhaseDone, h.svc.State().Phase)
	assert.Len(t, h.rec.snapshot().completed, 1)
}

func TestQR_ConfirmScanned(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodQR)

	st := h.svc.State()
	assert.Equal(t, "TUFUUklY", st.QRCode)
	assert.Nil(t, st.Emoji)

	assert.ErrorIs(t, h.svc.ConfirmEmojiMatch(ctx), verification.ErrInvalidPhase)

	require.NoError(t, h.svc.ConfirmQRScanned(ctx))
	assert.Equal(t, domain.PhaseWaitingForPartner, h.svc.State().Phase)
	assert.Empty(t, h.svc.State().QRCode)

	h.p.publish(domain.EventPartnerConfirmed, req.txn, "")
	assert.Equal(t, domain.PhaseDone, h.svc.State().Phase)
}

func TestStartVerification_SupersedesPrevious(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
	require.NoError(t, h.svc.StartVerification(ctx, bob, ""))
	h.svc.Wait()

	first, second := h.p.request(0), h.p.request(1)
	assert.Equal(t, 1, first.cancels())
	assert.Zero(t, second.cancels())

	st := h.svc.State()
	assert.Equal(t, domain.PhaseReady, st.Phase)
	assert.Same(t, second, st.Request)

	// Events for the discarded transaction are ignored.
	h.p.publish(domain.EventCancelled, first.txn, "stale")
	assert.Equal(t, domain.PhaseReady, h.svc.State().Phase)
}

func TestStartVerification_SupersedesVerifier(t *testing.T) {
	h := newHarness(t)
	first := h.toShowingSAS(t, domain.MethodEmoji)

	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
	h.svc.Wait()

	assert.Equal(t, 1, first.currentVerifier().cancels())
	st := h.svc.State()
	assert.Equal(t, domain.PhaseReady, st.Phase)
	assert.Nil(t, st.Emoji)
	assert.Nil(t, st.Verifier)
}

func TestStartVerification_InFlightRequestIsDiscarded(t *testing.T) {
	h := newHarness(t)
	release := h.p.gate(1)

	done := make(chan error, 1)
	go func() { done <- h.svc.StartVerification(ctx, bob, bobDev) }()
	require.Eventually(t, func() bool {
		h.p.mu.Lock()
		defer h.p.mu.Unlock()
		return len(h.p.requests) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
	release()

	assert.ErrorIs(t, <-done, verification.ErrSuperseded)
	h.svc.Wait()

	assert.Equal(t, 1, h.p.request(0).cancels())
	assert.Same(t, h.p.request(1), h.svc.State().Request)
	assert.Equal(t, domain.PhaseReady, h.svc.State().Phase)
}

func TestCancel_ReachableFromEveryNonTerminalPhase(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, h *harness) (req *fakeRequest, withVerifier bool)
	}{
		{
			name: "idle",
			setup: func(t *testing.T, h *harness) (*fakeRequest, bool) {
				return nil, false
			},
		},
		{
			name: "ready",
			setup: func(t *testing.T, h *harness) (*fakeRequest, bool) {
				require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
				return h.p.request(0), false
			},
		},
		{
			name: "showing emoji",
			setup: func(t *testing.T, h *harness) (*fakeRequest, bool) {
				return h.toShowingSAS(t, domain.MethodEmoji), true
			},
		},
		{
			name: "showing qr",
			setup: func(t *testing.T, h *harness) (*fakeRequest, bool) {
				return h.toShowingSAS(t, domain.MethodQR), true
			},
		},
		{
			name: "waiting for partner",
			setup: func(t *testing.T, h *harness) (*fakeRequest, bool) {
				req := h.toShowingSAS(t, domain.MethodEmoji)
				require.NoError(t, h.svc.ConfirmEmojiMatch(ctx))
				return req, true
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			req, withVerifier := tc.setup(t, h)

			h.svc.CancelVerification(ctx)

			// The local transition does not wait for the partner.
			st := h.svc.State()
			assert.Equal(t, domain.PhaseCancelled, st.Phase)
			assert.Nil(t, st.Emoji)
			assert.Empty(t, st.QRCode)
			assert.Nil(t, st.Verifier)
			assert.False(t, st.IsVerifying)
			assert.Equal(t, 1, h.rec.snapshot().cancelled)

			h.svc.Wait()
			if req == nil {
				return
			}
			if withVerifier {
				assert.Equal(t, 1, req.currentVerifier().cancels())
				assert.Zero(t, req.cancels())
			} else {
				assert.Equal(t, 1, req.cancels())
			}
			assert.Zero(t, h.clk.Pending())
		})
	}
}

func TestCancel_ThenConfirmFails(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodQR)

	h.svc.CancelVerification(ctx)
	h.svc.Wait()

	assert.Equal(t, domain.PhaseCancelled, h.svc.State().Phase)
	assert.ErrorIs(t, h.svc.ConfirmQRScanned(ctx), verification.ErrNoActiveVerifier)
	assert.Zero(t, req.currentVerifier().confirmed)
}

func TestProviderError_OnRequest(t *testing.T) {
	h := newHarness(t)
	h.p.requestErr = errBoom

	err := h.svc.StartVerification(ctx, bob, bobDev)
	assert.ErrorIs(t, err, errBoom)

	st := h.svc.State()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Contains(t, st.Error, "boom")
	assert.False(t, st.IsVerifying)
	assert.Len(t, h.rec.snapshot().failed, 1)
}

func TestProviderError_OnVerifierLeavesNoPartialState(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
	req := h.p.request(0)
	req.verifierErr = errBoom

	err := h.svc.StartEmojiVerification(ctx)
	assert.ErrorIs(t, err, errBoom)
	h.svc.Wait()

	st := h.svc.State()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Nil(t, st.Emoji)
	assert.Empty(t, st.QRCode)
	assert.Nil(t, st.Verifier)
	assert.Nil(t, st.Request)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 1, req.cancels())

	// A new start clears the error.
	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))
	assert.Empty(t, h.svc.State().Error)
}

func TestProviderError_EmptySASData(t *testing.T) {
	h := newHarness(t)
	h.p.emoji = nil
	require.NoError(t, h.svc.StartVerification(ctx, bob, bobDev))

	err := h.svc.StartEmojiVerification(ctx)
	assert.ErrorIs(t, err, verification.ErrNoSASData)
	h.svc.Wait()

	st := h.svc.State()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Nil(t, st.Verifier)
	assert.Equal(t, 1, h.p.request(0).currentVerifier().cancels())
}

func TestProviderError_OnConfirm(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodEmoji)
	req.currentVerifier().confirmErr = errBoom

	assert.ErrorIs(t, h.svc.ConfirmEmojiMatch(ctx), errBoom)
	st := h.svc.State()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Nil(t, st.Emoji)
	assert.Empty(t, h.rec.snapshot().completed)
}

func TestOutOfOrderCalls(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.svc.ConfirmEmojiMatch(ctx), verification.ErrNoActiveVerifier)
	assert.ErrorIs(t, h.svc.StartEmojiVerification(ctx), verification.ErrNoActiveRequest)
	assert.ErrorIs(t, h.svc.AcceptVerification(ctx, nil), verification.ErrNoActiveRequest)
	assert.Equal(t, domain.PhaseIdle, h.svc.State().Phase)
	assert.Empty(t, h.rec.snapshot().phases)

	h.toShowingSAS(t, domain.MethodEmoji)
	assert.ErrorIs(t, h.svc.StartQRVerification(ctx), verification.ErrInvalidPhase)
	assert.Equal(t, domain.PhaseShowingSAS, h.svc.State().Phase)
}

func TestPartnerTimeout(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodEmoji)
	require.NoError(t, h.svc.ConfirmEmojiMatch(ctx))

	h.clk.Advance(time.Minute)
	assert.Equal(t, domain.PhaseWaitingForPartner, h.svc.State().Phase)

	h.clk.Advance(time.Minute)
	h.svc.Wait()

	st := h.svc.State()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Equal(t, verification.ErrPartnerTimeout.Error(), st.Error)
	assert.False(t, st.IsVerifying)
	assert.Equal(t, []string{verification.ErrPartnerTimeout.Error()}, h.rec.snapshot().failed)
	assert.Equal(t, 1, req.currentVerifier().cancels())

	// A late confirmation does not resurrect the verification.
	h.p.publish(domain.EventPartnerConfirmed, req.txn, "")
	assert.Equal(t, domain.PhaseIdle, h.svc.State().Phase)
	assert.Empty(t, h.rec.snapshot().completed)
}

func TestRemoteCancel(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodEmoji)

	h.p.publish(domain.EventCancelled, req.txn, "m.mismatched_sas")
	h.svc.Wait()

	st := h.svc.State()
	assert.Equal(t, domain.PhaseCancelled, st.Phase)
	assert.Equal(t, "m.mismatched_sas", st.Error)
	assert.Nil(t, st.Emoji)
	assert.Equal(t, []string{"m.mismatched_sas"}, h.rec.snapshot().failed)
	assert.Zero(t, req.currentVerifier().cancels())
}

func TestIncomingRequest(t *testing.T) {
	h := newHarness(t)
	incoming := &fakeRequest{txn: "in-1", user: bob, device: bobDev, emoji: h.p.emoji}

	h.p.Publish(domain.VerificationEvent{
		Kind:          domain.EventRequestReceived,
		TransactionID: incoming.txn,
		Request:       incoming,
	})
	ev := h.rec.snapshot()
	require.Len(t, ev.incoming, 1)
	assert.Equal(t, domain.PhaseIdle, h.svc.State().Phase)

	require.NoError(t, h.svc.AcceptVerification(ctx, ev.incoming[0]))
	assert.Equal(t, 1, incoming.accepted)
	st := h.svc.State()
	assert.Equal(t, domain.PhaseReady, st.Phase)
	assert.Same(t, incoming, st.Request)

	require.NoError(t, h.svc.StartEmojiVerification(ctx))
	require.NoError(t, h.svc.ConfirmEmojiMatch(ctx))
	h.p.publish(domain.EventPartnerConfirmed, incoming.txn, "")
	assert.Equal(t, domain.PhaseDone, h.svc.State().Phase)
}

func TestAcceptVerification_Error(t *testing.T) {
	h := newHarness(t)
	incoming := &fakeRequest{txn: "in-1", user: bob, device: bobDev, acceptErr: errBoom}

	assert.ErrorIs(t, h.svc.AcceptVerification(ctx, incoming), errBoom)
	h.svc.Wait()

	st := h.svc.State()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Nil(t, st.Request)
	assert.Len(t, h.rec.snapshot().failed, 1)
}

func TestDestroy(t *testing.T) {
	h := newHarness(t)
	req := h.toShowingSAS(t, domain.MethodEmoji)
	before := h.rec.snapshot()

	h.svc.Destroy()
	h.svc.Wait()

	assert.Equal(t, domain.PhaseIdle, h.svc.State().Phase)
	assert.Nil(t, h.svc.State().Verifier)
	assert.Zero(t, h.p.Len())
	assert.Zero(t, req.cancels())
	assert.Zero(t, req.currentVerifier().cancels())
	assert.Equal(t, before, h.rec.snapshot())

	h.p.publish(domain.EventPartnerConfirmed, req.txn, "")
	assert.ErrorIs(t, h.svc.StartVerification(ctx, bob, bobDev), verification.ErrDestroyed)
	h.svc.CancelVerification(ctx)
	assert.Equal(t, before, h.rec.snapshot())
	assert.Zero(t, h.clk.Pending())
}

func TestRepeatedCreateDestroyLeaksNoSubscriptions(t *testing.T) {
	p := newFakeProvider()
	for i := 0; i < 5; i++ {
		svc := verification.New(p, verification.Options{Logger: zerolog.Nop()})
		assert.Equal(t, 4, p.Len())
		svc.Destroy()
	}
	assert.Zero(t, p.Len())
}

func TestIsDeviceVerified_FailsClosed(t *testing.T) {
	h := newHarness(t)
	h.p.verified[bobDev] = true
	assert.True(t, h.svc.IsDeviceVerified(ctx, bob, bobDev))
	assert.False(t, h.svc.IsDeviceVerified(ctx, bob, "OTHER"))

	h.p.trustErr = errBoom
	assert.False(t, h.svc.IsDeviceVerified(ctx, bob, bobDev))
}

func TestListDevices_Partitions(t *testing.T) {
	h := newHarness(t)
	h.p.devices = []domain.DeviceTrust{
		{Device: domain.DeviceInfo{UserID: bob, DeviceID: "A"}, Verified: true},
		{Device: domain.DeviceInfo{UserID: bob, DeviceID: "B"}},
		{Device: domain.DeviceInfo{UserID: bob, DeviceID: "C"}, Verified: true},
	}

	list, err := h.svc.ListDevices(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, list.Verified, 2)
	assert.Len(t, list.Unverified, 1)
	assert.Equal(t, domain.DeviceID("B"), list.Unverified[0].DeviceID)

	h.p.trustErr = errBoom
	_, err = h.svc.ListDevices(ctx, bob)
	assert.ErrorIs(t, err, errBoom)
}
