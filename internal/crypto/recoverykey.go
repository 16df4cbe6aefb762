package crypto

import (
	"crypto/rand"
	"errors"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// RecoveryKeyLength is the size of a backup private key.
const RecoveryKeyLength = 32

var recoveryKeyPrefix = [2]byte{0x8B, 0x01}

var (
	// ErrMalformedRecoveryKey is returned when a recovery key does not decode.
	ErrMalformedRecoveryKey = errors.New("malformed recovery key")
	// ErrRecoveryKeyParity is returned when the parity byte does not match.
	ErrRecoveryKeyParity = errors.New("recovery key parity check failed")
)

// GenerateRecoveryKey returns 32 random bytes suitable as a backup private key.
func GenerateRecoveryKey() ([]byte, error) {
	key := make([]byte, RecoveryKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncodeRecoveryKey renders key as prefix || key || parity in base58,
// grouped in blocks of four characters.
func EncodeRecoveryKey(key []byte) string {
	buf := make([]byte, 0, len(recoveryKeyPrefix)+len(key)+1)
	buf = append(buf, recoveryKeyPrefix[:]...)
	buf = append(buf, key...)
	var parity byte
	for _, b := range buf {
		parity ^= b
	}
	buf = append(buf, parity)
	encoded := base58.Encode(buf)
	Wipe(buf)

	var out strings.Builder
	for i, r := range encoded {
		if i > 0 && i%4 == 0 {
			out.WriteByte(' ')
		}
		out.WriteRune(r)
	}
	return out.String()
}

// DecodeRecoveryKey reverses EncodeRecoveryKey. Whitespace is ignored.
func DecodeRecoveryKey(encoded string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, encoded)
	if compact == "" {
		return nil, ErrMalformedRecoveryKey
	}

	raw := base58.Decode(compact)
	if len(raw) != len(recoveryKeyPrefix)+RecoveryKeyLength+1 {
		return nil, ErrMalformedRecoveryKey
	}
	if raw[0] != recoveryKeyPrefix[0] || raw[1] != recoveryKeyPrefix[1] {
		return nil, ErrMalformedRecoveryKey
	}
	var parity byte
	for _, b := range raw {
		parity ^= b
	}
	if parity != 0 {
		return nil, ErrRecoveryKeyParity
	}
	key := make([]byte, RecoveryKeyLength)
	copy(key, raw[len(recoveryKeyPrefix):len(recoveryKeyPrefix)+RecoveryKeyLength])
	Wipe(raw)
	return key, nil
}
