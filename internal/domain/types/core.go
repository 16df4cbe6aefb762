package types

// UserID is a fully qualified Matrix user identifier, e.g. @alice:example.org.
type UserID string

// String returns the string form of the user identifier.
func (u UserID) String() string { return string(u) }

// DeviceID identifies one cryptographic device of a user.
type DeviceID string

// String returns the string form of the device identifier.
func (d DeviceID) String() string { return string(d) }

// TransactionID identifies one interactive verification exchange.
type TransactionID string

// String returns the string form of the transaction identifier.
func (id TransactionID) String() string { return string(id) }

// BackupVersion is the server-assigned identifier of a key backup version.
type BackupVersion string

// String returns the string form of the backup version.
func (v BackupVersion) String() string { return string(v) }
