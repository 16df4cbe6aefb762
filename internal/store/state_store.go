package store

import (
	"path/filepath"
	"sync"

	"trustkit/internal/domain"
)

const stateFilename = "state.json"

// StateFileStore is a durable string key-value store backed by one JSON file.
// Concurrent processes race on the file; the last writer wins.
type StateFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewStateFileStore returns a StateFileStore rooted at dir.
func NewStateFileStore(dir string) *StateFileStore {
	return &StateFileStore{dir: dir}
}

// Get returns the value stored under key.
func (s *StateFileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]string{}
	if err := readJSON(s.path(), &m); err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *StateFileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m[key] = value
	return writeJSON(s.path(), m, 0o600)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *StateFileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return writeJSON(s.path(), m, 0o600)
}

// loadLocked reads the map for a rewrite. Undecodable content is replaced
// by an empty map; read failures are returned.
func (s *StateFileStore) loadLocked() (map[string]string, error) {
	m := map[string]string{}
	if err := readJSON(s.path(), &m); err != nil {
		if !isCorrupt(err) {
			return nil, err
		}
		return map[string]string{}, nil
	}
	return m, nil
}

func (s *StateFileStore) path() string { return filepath.Join(s.dir, stateFilename) }

// MemoryStateStore is a key-value store that lives as long as the process,
// used for session-scoped flags.
type MemoryStateStore struct {
	mu sync.Mutex
	m  map[string]string
}

// NewMemoryStateStore returns an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{m: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStateStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MemoryStateStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// Delete removes key.
func (s *MemoryStateStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Compile-time assertions that both stores implement domain.StateStore.
var (
	_ domain.StateStore = (*StateFileStore)(nil)
	_ domain.StateStore = (*MemoryStateStore)(nil)
)
