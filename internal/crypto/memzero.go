package crypto

import "runtime"

// Wipe zeroes each buffer in place. It is best-effort: copies made by the
// runtime or by callers are not reached.
//
//go:noinline
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
	runtime.KeepAlive(bufs)
}
