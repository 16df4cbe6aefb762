package store

import (
	"encoding/json"
	"path/filepath"
	"sync"
)

const secretsFilename = "device_secrets.json.enc"

// SecretFileStore persists device secrets encrypted under a pickle key.
type SecretFileStore struct {
	dir    string
	params scryptParams
	mu     sync.Mutex
}

// NewSecretFileStore returns a SecretFileStore rooted at dir.
func NewSecretFileStore(dir string) *SecretFileStore {
	return &SecretFileStore{dir: dir, params: defaultScryptParams()}
}

// WithLightKDF lowers the scrypt cost. Only tests should use it.
func (s *SecretFileStore) WithLightKDF() *SecretFileStore {
	s.params = scryptParams{N: 1 << 10, R: 8, P: 1}
	return s
}

// SaveSecrets encrypts v with pickleKey and writes it to disk.
func (s *SecretFileStore) SaveSecrets(pickleKey string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ct, err := seal(pickleKey, raw, s.params)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, secretsFilename), ct, 0o600)
}

// LoadSecrets decrypts the secrets file into out. It reports false when no
// secrets have been saved yet.
func (s *SecretFileStore) LoadSecrets(pickleKey string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, secretsFilename))
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	pt, err := unseal(pickleKey, b)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(pt, out); err != nil {
		return false, err
	}
	return true, nil
}
