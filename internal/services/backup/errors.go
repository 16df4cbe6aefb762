package backup

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies backup failures.
type Kind int

const (
	// KindKeyBackup is any provider failure not covered by another kind.
	KindKeyBackup Kind = iota
	// KindBackupNotEnabled means the account has no backup version.
	KindBackupNotEnabled
	// KindBackupTrust means the trust check itself failed.
	KindBackupTrust
	// KindPassphrase means passphrase-based key derivation or decryption failed.
	KindPassphrase
	// KindInvalidInput means the caller's input was rejected before any provider call.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindKeyBackup:
		return "key backup error"
	case KindBackupNotEnabled:
		return "backup not enabled"
	case KindBackupTrust:
		return "backup trust error"
	case KindPassphrase:
		return "passphrase error"
	case KindInvalidInput:
		return "invalid input"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by every mutating backup operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrPassphrase)
// holds for any passphrase failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels.
var (
	ErrKeyBackup        = &Error{Kind: KindKeyBackup}
	ErrBackupNotEnabled = &Error{Kind: KindBackupNotEnabled}
	ErrBackupTrust      = &Error{Kind: KindBackupTrust}
	ErrPassphrase       = &Error{Kind: KindPassphrase}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
)

// Input validation errors, wrapped in a KindInvalidInput *Error.
var (
	ErrPassphraseTooShort = errors.New("passphrase is too short")
	ErrPassphraseMismatch = errors.New("passphrase confirmation does not match")
	ErrEmptyPassphrase    = errors.New("passphrase is empty")
	ErrEmptyRecoveryKey   = errors.New("recovery key is empty")
	ErrNoBackupVersion    = errors.New("no backup version exists")
)

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
