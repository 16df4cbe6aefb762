// Package app wires application dependencies for the CLI.
//
// It loads Config through viper, builds the root zerolog logger, opens the
// local crypto provider and constructs the backup, verification and
// detector managers, exposing them via Wire and App for commands to use.
// A completed verification of this account's devices is fed back into the
// backup manager so keys held back while unverified are uploaded.
package app
