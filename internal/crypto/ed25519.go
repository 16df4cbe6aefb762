package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
)

// GenerateEd25519 returns a new Ed25519 signing key pair.
func GenerateEd25519() (priv ed25519.PrivateKey, pub ed25519.PublicKey, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	return priv, pub, err
}

// SignEd25519 signs msg with priv and returns the unpadded base64 signature.
func SignEd25519(priv ed25519.PrivateKey, msg []byte) string {
	return B64(ed25519.Sign(priv, msg))
}

// VerifyEd25519 verifies the base64 signature sig over msg with pub.
func VerifyEd25519(pub ed25519.PublicKey, msg []byte, sig string) bool {
	raw, err := UnB64(sig)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, raw)
}
