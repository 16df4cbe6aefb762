// Package domain defines the data model and contracts shared by the trust
// managers. It contains plain types (state snapshots, registry entries) and
// contracts (the crypto provider the managers consume and the services they
// expose) only.
package domain
