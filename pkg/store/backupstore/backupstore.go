// Package backupstore wraps a primary store.Store with a best-effort
// mirror to a secondary store. Mirror failures are logged but never fail
// the caller's write, matching the teacher's dual-write pattern for
// secondary indexes that must not become availability dependencies.
package backupstore

import (
	"context"
	"log"

	"github.com/bitcertify/certify/pkg/store"
)

// BackupStore reads from Primary only; writes go to both.
type BackupStore struct {
	Primary   store.Store
	Secondary store.Store
}

// New builds a BackupStore.
func New(primary, secondary store.Store) *BackupStore {
	return &BackupStore{Primary: primary, Secondary: secondary}
}

// Put writes to Primary, then mirrors to Secondary without blocking the
// caller on mirror failures.
func (b *BackupStore) Put(ctx context.Context, key store.Key, data []byte) error {
	if err := b.Primary.Put(ctx, key, data); err != nil {
		return err
	}
	if err := b.Secondary.Put(ctx, key, data); err != nil {
		log.Printf("backupstore: mirror write failed for %s: %v", key, err)
	}
	return nil
}

// Get reads from Primary only.
func (b *BackupStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	return b.Primary.Get(ctx, key)
}
