// Package detector decides whether the current session should be
// interrupted by a device verification prompt.
//
// It reads a durable first-login flag and device registry, plus a
// session-scoped "prompt shown" flag. Unreadable persisted state degrades to
// "everything looks new" instead of failing.
package detector
