// Package verification drives one interactive device verification at a time,
// by SAS emoji or QR code, from request to completion or cancellation.
//
// The state machine never marks a device verified on local confirmation
// alone: both the local user and the partner device must confirm. Provider
// calls happen outside the state lock; a generation counter discards results
// that arrive after the verification they belong to was superseded,
// cancelled or timed out. Handlers run after the lock is released.
package verification
