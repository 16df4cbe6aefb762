package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultPBKDF2Iterations matches the iteration count Matrix clients use.
	DefaultPBKDF2Iterations = 500000
	saltLength              = 32
	saltAlphabet            = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrInvalidIterations is returned for a non-positive PBKDF2 iteration count.
var ErrInvalidIterations = errors.New("pbkdf2 iterations must be positive")

// GenerateSalt returns a random alphanumeric salt.
func GenerateSalt() (string, error) {
	out := make([]byte, saltLength)
	limit := big.NewInt(int64(len(saltAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = saltAlphabet[n.Int64()]
	}
	return string(out), nil
}

// DeriveKeyFromPassphrase stretches passphrase into a backup private key
// with PBKDF2-SHA512.
func DeriveKeyFromPassphrase(passphrase, salt string, iterations int) ([]byte, error) {
	if iterations <= 0 {
		return nil, ErrInvalidIterations
	}
	return pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, RecoveryKeyLength, sha512.New), nil
}
