// Package commands defines the trustkit CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - backup status|progress|upload|delete|create|restore
//     Manage the account's key backup
//   - verify         Verify another device by emoji or QR code
//   - devices        List devices partitioned by trust
//   - login          Run first-login / new-device detection for this device
//   - status         Print the security summary of this session
//   - sim            Drive the simulated homeserver and partner devices
//
// # Implementation
//
// The root command loads the configuration through viper, builds the logger
// and the dependency graph before any subcommand runs, and closes it again
// afterwards so background uploads finish and metrics are written.
package commands
