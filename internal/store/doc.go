// Package store provides file-based persistence for trustkit's local state.
//
// It serialises data as JSON on disk, replacing files atomically through a
// temp file and rename. All methods are concurrency-safe within a process via
// internal locking; separate processes race and the last writer wins. Stored
// files live under the configured home directory.
//
// The package includes:
//   - Durable key-value state: device registry, first-login flag and last
//     login timestamp (StateFileStore)
//   - Session-scoped key-value state (MemoryStateStore)
//   - Single JSON documents, used by the local provider (DocumentFileStore)
//   - Device secrets sealed under a pickle key (SecretFileStore)
package store
