// Package local implements a file-backed crypto provider for one device of
// an account.
//
// It plays both sides of the protocol: a simulated homeserver (device list
// and the current key backup, in <home>/server.json) and the local device
// (trust marks and backup bookkeeping in <home>/devices/<id>/device.json,
// private keys and session keys sealed under the pickle key). Partner devices
// are simulated in-process so interactive verification can be driven end to
// end from tests and the CLI.
//
// Separate processes sharing a home race on the JSON files; the last writer
// wins.
package local
