package types

import (
	"context"
	"fmt"
)

// Phase is the position of the verification state machine. The set is
// closed: every switch over Phase handles all values listed here.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequesting
	PhaseReady
	PhaseShowingSAS
	PhaseWaitingForPartner
	PhaseDone
	PhaseCancelled
)

var phaseNames = [...]string{
	PhaseIdle:              "idle",
	PhaseRequesting:        "requesting",
	PhaseReady:             "ready",
	PhaseShowingSAS:        "showing_sas",
	PhaseWaitingForPartner: "waiting_for_partner",
	PhaseDone:              "done",
	PhaseCancelled:         "cancelled",
}

// String returns the wire name of the phase.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether no further transition is possible for the
// current request.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDone, PhaseCancelled:
		return true
	case PhaseIdle, PhaseRequesting, PhaseReady, PhaseShowingSAS, PhaseWaitingForPartner:
		return false
	}
	return false
}

// Method is the interactive verification method.
type Method int

const (
	MethodNone Method = iota
	MethodEmoji
	MethodQR
)

// String returns the wire name of the method.
func (m Method) String() string {
	switch m {
	case MethodEmoji:
		return "emoji"
	case MethodQR:
		return "qr"
	case MethodNone:
		return "none"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod converts a wire name back into a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "emoji", "sas":
		return MethodEmoji, nil
	case "qr":
		return MethodQR, nil
	}
	return MethodNone, fmt.Errorf("unknown verification method %q", s)
}

// SASEmoji is one entry of the short authentication string.
type SASEmoji struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

// VerificationRequest is an opaque handle to a verification request held by
// the crypto provider.
type VerificationRequest interface {
	TransactionID() TransactionID
	OtherUserID() UserID
	// OtherDeviceID is empty while the request targets every device of the
	// other user and no device has answered yet.
	OtherDeviceID() DeviceID
	Accept(ctx context.Context) error
	Cancel(ctx context.Context) error
	// StartVerifier begins the SAS or QR sub-protocol and returns once the
	// short authentication data is available.
	StartVerifier(ctx context.Context, method Method) (Verifier, error)
}

// Verifier is an opaque handle to an in-progress cryptographic verifier.
type Verifier interface {
	Method() Method
	// Emoji returns the SAS emoji; empty for QR verifiers.
	Emoji() []SASEmoji
	// QRCode returns the encoded QR payload; empty for SAS verifiers.
	QRCode() string
	// Confirm records the local user's attestation and sends it to the partner.
	Confirm(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// VerificationState is the single mutable state of an in-flight
// verification. Emoji, QRCode and Verifier are only set in
// PhaseShowingSAS and PhaseWaitingForPartner, and only one of Emoji and
// QRCode is set at a time.
type VerificationState struct {
	Phase       Phase
	Method      Method
	Request     VerificationRequest
	Verifier    Verifier
	Emoji       []SASEmoji
	QRCode      string
	Error       string
	IsVerifying bool
}

// Clone returns a copy that does not share the Emoji slice.
func (s VerificationState) Clone() VerificationState {
	out := s
	if s.Emoji != nil {
		out.Emoji = append([]SASEmoji(nil), s.Emoji...)
	}
	return out
}

// VerificationEventKind classifies events delivered by the provider.
type VerificationEventKind int

const (
	// EventRequestReceived carries an inbound request raised by a partner.
	EventRequestReceived VerificationEventKind = iota
	// EventRequestReady signals that the partner answered an outgoing request.
	EventRequestReady
	// EventPartnerConfirmed signals that the partner confirmed the SAS or scanned the QR code.
	EventPartnerConfirmed
	// EventCancelled signals that the partner or the provider cancelled the exchange.
	EventCancelled
)

// String returns a readable name for the event kind.
func (k VerificationEventKind) String() string {
	switch k {
	case EventRequestReceived:
		return "request_received"
	case EventRequestReady:
		return "request_ready"
	case EventPartnerConfirmed:
		return "partner_confirmed"
	case EventCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// VerificationEvent is delivered by the provider to subscribers.
type VerificationEvent struct {
	Kind          VerificationEventKind
	TransactionID TransactionID
	Request       VerificationRequest
	Reason        string
}
