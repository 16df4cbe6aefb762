package verification

import "github.com/pkg/errors"

var (
	// ErrNoActiveRequest is returned when an operation needs a request and none is held.
	ErrNoActiveRequest = errors.New("no active verification request")
	// ErrNoActiveVerifier is returned when confirming without a verifier.
	ErrNoActiveVerifier = errors.New("no active verifier")
	// ErrInvalidPhase is returned when an operation is not allowed in the current phase.
	ErrInvalidPhase = errors.New("operation not allowed in the current verification phase")
	// ErrPartnerTimeout is recorded when the partner does not confirm in time.
	ErrPartnerTimeout = errors.New("timed out waiting for the other device to confirm")
	// ErrNoSASData is returned when the provider returns neither emoji nor a QR payload.
	ErrNoSASData = errors.New("provider returned no short authentication data")
	// ErrVerificationCancelled is returned to an operation whose verification was cancelled while it ran.
	ErrVerificationCancelled = errors.New("verification was cancelled")
	// ErrSuperseded is returned to an operation whose verification was replaced while it ran.
	ErrSuperseded = errors.New("verification was superseded by a newer one")
	// ErrDestroyed is returned after Destroy.
	ErrDestroyed = errors.New("verification service destroyed")
)
