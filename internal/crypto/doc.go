// Package crypto exposes the primitives the local provider and the CLI use
// around key backup and interactive verification.
//
// Contents
//
//   - Recovery key encoding in the Matrix base58 format (EncodeRecoveryKey,
//     DecodeRecoveryKey)
//   - Passphrase key derivation with PBKDF2-SHA512 (DeriveKeyFromPassphrase)
//   - X25519 key generation and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 signing of backup auth data (GenerateEd25519, SignEd25519,
//     VerifyEd25519)
//   - Sealing of session keys to a backup public key (Seal, Open)
//   - SAS emoji derivation (SASEmoji) and QR payload encoding (QRPayload)
//   - Best-effort memory wiping and short fingerprints (Wipe, Fingerprint)
//
// # Notes
//
// Callers should treat returned private keys as sensitive and Wipe them once
// they are no longer needed.
package crypto
