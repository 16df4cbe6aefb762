package crypto

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// QR verification modes.
const (
	QRModeOwnUserCrossSigningTrusted   byte = 0x01
	QRModeOwnUserCrossSigningUntrusted byte = 0x02
)

const (
	qrHeader  = "MATRIX"
	qrVersion = 0x02
)

var errQRSecretTooShort = errors.New("qr shared secret must be at least 8 bytes")

// QRPayload encodes the Matrix QR verification payload and returns it as
// base64 so it can be carried as an opaque string.
func QRPayload(mode byte, txn string, key1, key2 [32]byte, secret []byte) (string, error) {
	if len(secret) < 8 {
		return "", errQRSecretTooShort
	}
	buf := make([]byte, 0, len(qrHeader)+4+len(txn)+64+len(secret))
	buf = append(buf, qrHeader...)
	buf = append(buf, qrVersion, mode)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(txn)))
	buf = append(buf, txn...)
	buf = append(buf, key1[:]...)
	buf = append(buf, key2[:]...)
	buf = append(buf, secret...)
	return base64.StdEncoding.EncodeToString(buf), nil
}
