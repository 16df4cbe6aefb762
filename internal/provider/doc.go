// Package provider holds the plumbing shared by crypto provider
// implementations: the Unavailable null-object provider and the event Bus
// that backs Subscribe.
package provider
