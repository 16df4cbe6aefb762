package types

// BackupAlgorithmMegolmV1 is the only backup algorithm the managers expect.
const BackupAlgorithmMegolmV1 = "m.megolm_backup.v1.curve25519-aes-sha2"

// BackupStatus is a read-only snapshot of the server backup metadata combined
// with the local trust decision. It is replaced wholesale on every query.
type BackupStatus struct {
	Enabled      bool          `json:"enabled"`
	Version      BackupVersion `json:"version,omitempty"`
	Algorithm    string        `json:"algorithm,omitempty"`
	SessionCount int           `json:"session_count,omitempty"`
	ETag         string        `json:"etag,omitempty"`
	Trusted      bool          `json:"trusted"`
}

// BackupRecoveryInfo is the secret material produced once when a backup is
// created. It is handed to the user and never persisted.
type BackupRecoveryInfo struct {
	RecoveryKey   string        `json:"recovery_key"`
	Passphrase    string        `json:"passphrase,omitempty"`
	BackupVersion BackupVersion `json:"backup_version"`
}

// BackupVersionInfo is the server-side description of a backup version.
type BackupVersionInfo struct {
	Version   BackupVersion  `json:"version"`
	Algorithm string         `json:"algorithm"`
	AuthData  BackupAuthData `json:"auth_data"`
	Count     int            `json:"count"`
	ETag      string         `json:"etag"`
}

// BackupAuthData carries the backup public key, its signatures, and, for
// passphrase-derived keys, the derivation parameters.
type BackupAuthData struct {
	PublicKey         string                       `json:"public_key"`
	Signatures        map[string]map[string]string `json:"signatures,omitempty"`
	PrivateKeySalt    string                       `json:"private_key_salt,omitempty"`
	PrivateKeyIters   int                          `json:"private_key_iterations,omitempty"`
	PrivateKeyBits    int                          `json:"private_key_bits,omitempty"`
	PrivateKeyBackend string                       `json:"private_key_backend,omitempty"`
}

// BackupTrustInfo is the provider's verdict on a backup version.
type BackupTrustInfo struct {
	// Usable reports whether the backup is signed by a trusted key or its
	// private key is held locally.
	Usable bool `json:"usable"`
	// TrustedLocally reports whether the private key was matched locally.
	TrustedLocally bool `json:"trusted_locally"`
}

// PassphraseInfo records how a recovery key was derived from a passphrase.
type PassphraseInfo struct {
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

// RecoveryKey is a freshly generated backup private key.
type RecoveryKey struct {
	PrivateKey        []byte          `json:"-"`
	EncodedPrivateKey string          `json:"-"`
	Passphrase        *PassphraseInfo `json:"passphrase,omitempty"`
}

// PreparedBackup is the result of preparing, but not yet uploading, a
// backup version.
type PreparedBackup struct {
	Algorithm   string         `json:"algorithm"`
	AuthData    BackupAuthData `json:"auth_data"`
	RecoveryKey RecoveryKey    `json:"-"`
}

// BackupProgress counts sessions relative to the current backup version.
type BackupProgress struct {
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
	BackedUp  int `json:"backed_up"`
}

// BackupStage is a step reported to backup and restore progress callbacks.
type BackupStage string

const (
	BackupStagePreparing BackupStage = "preparing"
	BackupStageUploading BackupStage = "uploading"
	BackupStageImporting BackupStage = "importing"
	BackupStageComplete  BackupStage = "complete"
	BackupStageError     BackupStage = "error"
)

// BackupProgressEvent is delivered to backup and restore progress callbacks.
type BackupProgressEvent struct {
	Stage    BackupStage `json:"stage"`
	Imported int         `json:"imported,omitempty"`
	Total    int         `json:"total,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// RestoreProgress is reported by the provider while importing keys.
type RestoreProgress struct {
	Imported int `json:"imported"`
	Total    int `json:"total"`
}

// RestoreResult summarises a completed restore. Restoring and trusting are
// independent outcomes: a restore can succeed while Status.Trusted is false.
type RestoreResult struct {
	Imported int          `json:"imported"`
	Total    int          `json:"total"`
	Status   BackupStatus `json:"status"`
	Warnings []string     `json:"warnings,omitempty"`
}
