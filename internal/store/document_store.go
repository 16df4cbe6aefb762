package store

import (
	"path/filepath"
	"sync"
)

// DocumentFileStore persists a single JSON document, rewriting it atomically
// on every update.
type DocumentFileStore struct {
	path string
	mu   sync.Mutex
}

// NewDocumentFileStore returns a store for dir/name.
func NewDocumentFileStore(dir, name string) *DocumentFileStore {
	return &DocumentFileStore{path: filepath.Join(dir, name)}
}

// Load reads the document into out. A missing file leaves out untouched.
func (s *DocumentFileStore) Load(out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSON(s.path, out)
}

// Save replaces the document with v.
func (s *DocumentFileStore) Save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path, v, 0o600)
}
