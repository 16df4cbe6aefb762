package crypto_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustkit/internal/crypto"
)

func TestRecoveryKey_DecodeIgnoresSpacing(t *testing.T) {
	key, err := crypto.GenerateRecoveryKey()
	require.NoError(t, err)

	encoded := crypto.EncodeRecoveryKey(key)
	assert.Contains(t, encoded, " ")

	decoded, err := crypto.DecodeRecoveryKey(strings.ReplaceAll(encoded, " ", "") + "\n")
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestRecoveryKey_RejectsTamperedKey(t *testing.T) {
	key, err := crypto.GenerateRecoveryKey()
	require.NoError(t, err)
	encoded := []byte(strings.ReplaceAll(crypto.EncodeRecoveryKey(key), " ", ""))

	// Swap one character for another base58 symbol.
	if encoded[10] == 'z' {
		encoded[10] = 'y'
	} else {
		encoded[10] = 'z'
	}
	decoded, err := crypto.DecodeRecoveryKey(string(encoded))
	if err == nil {
		// A tampered key that survives the parity byte must still differ.
		assert.NotEqual(t, key, decoded)
	}

	_, err = crypto.DecodeRecoveryKey("   ")
	assert.ErrorIs(t, err, crypto.ErrMalformedRecoveryKey)
}

func TestDeriveKeyFromPassphrase_Deterministic(t *testing.T) {
	a, err := crypto.DeriveKeyFromPassphrase("correct horse", "salt", 10)
	require.NoError(t, err)
	b, err := crypto.DeriveKeyFromPassphrase("correct horse", "salt", 10)
	require.NoError(t, err)
	c, err := crypto.DeriveKeyFromPassphrase("correct horse", "pepper", 10)
	require.NoError(t, err)

	assert.Len(t, a, crypto.RecoveryKeyLength)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = crypto.DeriveKeyFromPassphrase("x", "salt", 0)
	assert.ErrorIs(t, err, crypto.ErrInvalidIterations)
}

func TestSealOpen_OnlyMatchingKeyOpens(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	otherPriv, _, err := crypto.GenerateX25519()
	require.NoError(t, err)

	sealed, err := crypto.Seal(pub[:], []byte("session key"))
	require.NoError(t, err)

	pt, err := crypto.Open(priv[:], sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("session key"), pt)

	_, err = crypto.Open(otherPriv[:], sealed)
	assert.ErrorIs(t, err, crypto.ErrOpenFailed)
}

func TestSASEmoji_BothSidesAgree(t *testing.T) {
	aPriv, aPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	bPriv, bPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	sharedA, err := crypto.DH(aPriv[:], bPub[:])
	require.NoError(t, err)
	sharedB, err := crypto.DH(bPriv[:], aPub[:])
	require.NoError(t, err)

	emojiA, err := crypto.SASEmoji(sharedA, "txn-1")
	require.NoError(t, err)
	emojiB, err := crypto.SASEmoji(sharedB, "txn-1")
	require.NoError(t, err)

	assert.Len(t, emojiA, crypto.SASEmojiCount)
	assert.Equal(t, emojiA, emojiB)
	for _, e := range emojiA {
		assert.NotEmpty(t, e.Symbol)
		assert.NotEmpty(t, e.Description)
	}
}

func TestSignEd25519_VerifiesOnlyOriginalMessage(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)

	sig := crypto.SignEd25519(priv, []byte("auth data"))
	assert.True(t, crypto.VerifyEd25519(pub, []byte("auth data"), sig))
	assert.False(t, crypto.VerifyEd25519(pub, []byte("auth data!"), sig))
	assert.False(t, crypto.VerifyEd25519(pub, []byte("auth data"), "not base64!"))
}

func TestQRPayload_RequiresSecret(t *testing.T) {
	var k1, k2 [32]byte
	_, err := crypto.QRPayload(crypto.QRModeOwnUserCrossSigningTrusted, "txn", k1, k2, []byte("short"))
	assert.Error(t, err)

	payload, err := crypto.QRPayload(crypto.QRModeOwnUserCrossSigningTrusted, "txn", k1, k2, []byte("12345678"))
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}
