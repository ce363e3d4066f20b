package state

import (
	"os"
	"path/filepath"
)

// FSStore is the filesystem-backed Store spec §6 mandates: a blob per
// (actor_name, key) living at <base>/<escaped actor_name>/<escaped key>.
type FSStore struct {
	base string
}

// NewFSStore returns a Store rooted at base, creating it if necessary.
func NewFSStore(base string) (*FSStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) path(actorName, key string) string {
	return filepath.Join(s.base, escapeKey(actorName), escapeKey(key))
}

func (s *FSStore) Put(actorName, key string, value []byte) error {
	dir := filepath.Join(s.base, escapeKey(actorName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path(actorName, key), value, 0o644)
}

func (s *FSStore) Get(actorName, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(actorName, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *FSStore) Delete(actorName, key string) error {
	err := os.Remove(s.path(actorName, key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
