package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, err
	}
	clamp(&priv)
	pub, err = PublicFromPrivate(priv[:])
	return priv, pub, err
}

// PublicFromPrivate derives the Curve25519 public key for priv.
func PublicFromPrivate(priv []byte) (pub [32]byte, err error) {
	pb, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], pb)
	return pub, nil
}

// DH computes X25519 Diffie–Hellman.
func DH(priv, pub []byte) ([]byte, error) {
	return curve25519.X25519(priv, pub)
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
