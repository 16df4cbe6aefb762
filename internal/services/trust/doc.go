// Package trust derives a human-readable security level from the backup
// status and the device verification state.
package trust
