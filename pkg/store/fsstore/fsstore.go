// Package fsstore implements pkg/store.Store on the local filesystem, for
// development and single-node deployments.
package fsstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bitcertify/certify/pkg/store"
)

// FSStore stores each key as one file under Root.
type FSStore struct {
	Root string
}

// New builds an FSStore rooted at dir, creating it if necessary.
func New(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{Root: dir}, nil
}

func (s *FSStore) path(key store.Key) string {
	return filepath.Join(s.Root, key.Prefix+key.ID)
}

// Put writes data atomically via a temp file rename.
func (s *FSStore) Put(ctx context.Context, key store.Key, data []byte) error {
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get reads the stored blob, returning store.ErrNotFound if absent.
func (s *FSStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	return data, err
}
