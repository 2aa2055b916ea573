package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcertify/certify/pkg/store"
	"github.com/bitcertify/certify/pkg/store/fsstore"
)

func TestFSStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := fsstore.New(dir)
	require.NoError(t, err)

	key := store.Key{Prefix: "dp-", ID: "abc123"}
	require.NoError(t, s.Put(context.Background(), key, []byte("hello")))

	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestFSStoreMissingKey(t *testing.T) {
	dir := t.TempDir()
	s, err := fsstore.New(dir)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), store.Key{Prefix: "dp-", ID: "missing"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inner, err := fsstore.New(dir)
	require.NoError(t, err)

	enc := store.NewEncryptedStore(inner, []byte("wallet-private-key-material"))
	key := store.Key{Prefix: "wr-", ID: "xyz"}

	require.NoError(t, enc.Put(context.Background(), key, []byte("secret bytes")))

	raw, err := inner.Get(context.Background(), key)
	require.NoError(t, err)
	assert.NotEqual(t, "secret bytes", string(raw), "ciphertext must not equal plaintext")

	got, err := enc.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "secret bytes", string(got))
}

type recordingStore struct {
	puts int
	data map[string][]byte
}

func newRecordingStore() *recordingStore { return &recordingStore{data: map[string][]byte{}} }

func (r *recordingStore) Put(ctx context.Context, key store.Key, data []byte) error {
	r.puts++
	r.data[key.String()] = data
	return nil
}

func (r *recordingStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	v, ok := r.data[key.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return v, nil
}
