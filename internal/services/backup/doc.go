// Package backup manages the lifecycle of the account's key backup.
//
// It creates a backup version from a random or passphrase-derived recovery
// key, decides whether the current version is trusted, restores keys from it
// and tracks how many group sessions still wait for upload. Status queries
// degrade to safe defaults on provider failure; operations that change state
// return a typed *Error.
package backup
