package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "trustkit backup session v1"

// ErrOpenFailed is returned when a sealed blob cannot be opened with the key.
var ErrOpenFailed = errors.New("cannot decrypt sealed data with this key")

// Seal encrypts plaintext to the Curve25519 public key recipient. The output
// is ephemeral public key || ciphertext.
func Seal(recipient []byte, plaintext []byte) ([]byte, error) {
	ephPriv, ephPub, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	defer Wipe(ephPriv[:])

	aead, err := sealKey(ephPriv[:], recipient, ephPub[:])
	if err != nil {
		return nil, err
	}
	// The key is unique per ephemeral, so a zero nonce is never reused.
	nonce := make([]byte, aead.NonceSize())
	out := append([]byte(nil), ephPub[:]...)
	return aead.Seal(out, nonce, plaintext, ephPub[:]), nil
}

// Open decrypts a blob produced by Seal with the matching private key.
func Open(priv []byte, sealed []byte) ([]byte, error) {
	if len(sealed) < curve25519.PointSize+chacha20poly1305.Overhead {
		return nil, ErrOpenFailed
	}
	ephPub := sealed[:curve25519.PointSize]
	aead, err := sealKey(priv, ephPub, ephPub)
	if err != nil {
		return nil, ErrOpenFailed
	}
	nonce := make([]byte, aead.NonceSize())
	pt, err := aead.Open(nil, nonce, sealed[curve25519.PointSize:], ephPub)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return pt, nil
}

func sealKey(priv, pub, salt []byte) (cipher.AEAD, error) {
	shared, err := DH(priv, pub)
	if err != nil {
		return nil, err
	}
	defer Wipe(shared)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	defer Wipe(key)
	return chacha20poly1305.New(key)
}
