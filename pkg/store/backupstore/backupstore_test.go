package backupstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcertify/certify/pkg/store"
	"github.com/bitcertify/certify/pkg/store/backupstore"
)

type memStore struct {
	data    map[string][]byte
	failPut bool
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Put(ctx context.Context, key store.Key, data []byte) error {
	if m.failPut {
		return errors.New("boom")
	}
	m.data[key.String()] = data
	return nil
}

func (m *memStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	v, ok := m.data[key.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}

func TestBackupStoreMirrorsWrites(t *testing.T) {
	primary := newMemStore()
	secondary := newMemStore()
	bs := backupstore.New(primary, secondary)

	key := store.Key{Prefix: "dp-", ID: "1"}
	require.NoError(t, bs.Put(context.Background(), key, []byte("data")))

	got, err := secondary.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestBackupStoreSurvivesMirrorFailure(t *testing.T) {
	primary := newMemStore()
	secondary := newMemStore()
	secondary.failPut = true
	bs := backupstore.New(primary, secondary)

	key := store.Key{Prefix: "dp-", ID: "1"}
	require.NoError(t, bs.Put(context.Background(), key, []byte("data")))

	got, err := bs.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}
