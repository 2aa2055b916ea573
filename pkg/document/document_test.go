package document

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcertify/certify/pkg/ledger"
	"github.com/bitcertify/certify/pkg/payload"
	"github.com/bitcertify/certify/pkg/store/fsstore"
)

type fakeDocRepo struct {
	records map[int64]Record
	partsOf map[int64][]Part
	nextID  int64
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{records: map[int64]Record{}, partsOf: map[int64][]Part{}}
}

func (f *fakeDocRepo) Insert(ctx context.Context, rec Record, parts []Part) (int64, error) {
	f.nextID++
	rec.ID = f.nextID
	f.records[f.nextID] = rec
	f.partsOf[f.nextID] = parts
	return f.nextID, nil
}
func (f *fakeDocRepo) MarkDeleted(ctx context.Context, id int64) error {
	rec := f.records[id]
	rec.Status = StatusDeleted
	f.records[id] = rec
	return nil
}
func (f *fakeDocRepo) ParkedOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	for id, rec := range f.records {
		if rec.Status == StatusParked && rec.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
func (f *fakeDocRepo) Published(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

type fakeLedgerRepo struct{ balance int64 }

func (f *fakeLedgerRepo) AccountState(ctx context.Context, orgID int64) (ledger.AccountState, error) {
	return ledger.AccountState{BalanceBytes: f.balance}, nil
}
func (f *fakeLedgerRepo) FundAll(ctx context.Context, orgID int64) ([]int64, error) {
	return []int64{1}, nil
}
func (f *fakeLedgerRepo) AcceptTerms(ctx context.Context, orgID int64) error { return nil }

func TestSubmitSniffsAndStoresWholeFile(t *testing.T) {
	dir := t.TempDir()
	blobs, err := fsstore.New(dir)
	require.NoError(t, err)

	repo := newFakeDocRepo()
	svc := NewService(repo, &fakeLedgerRepo{balance: 100}, blobs)

	rec, err := svc.Submit(context.Background(), 1, nil, "addr1", nil, []byte("%PDF-1.4 fake pdf body"))
	require.NoError(t, err)
	assert.Equal(t, StatusFunded, rec.Status)
	assert.Equal(t, int64(1), rec.CostBytes)
}

func TestSubmitRejectsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	blobs, err := fsstore.New(dir)
	require.NoError(t, err)
	svc := NewService(newFakeDocRepo(), &fakeLedgerRepo{}, blobs)

	_, err = svc.Submit(context.Background(), 1, nil, "addr1", nil, nil)
	require.Error(t, err)
}

func TestSubmitIndexesZipMembersSeparately(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w1, _ := zw.Create("a.txt")
	w1.Write([]byte("hello"))
	w2, _ := zw.Create("b.txt")
	w2.Write([]byte("world"))
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	blobs, err := fsstore.New(dir)
	require.NoError(t, err)
	repo := newFakeDocRepo()
	svc := NewService(repo, &fakeLedgerRepo{balance: 100}, blobs)

	rec, err := svc.Submit(context.Background(), 1, nil, "addr1", nil, buf.Bytes())
	require.NoError(t, err)

	parts := repo.partsOf[rec.ID]
	require.Len(t, parts, 3)
	assert.True(t, parts[0].IsBase)
	assert.Equal(t, "full_zip_file", parts[0].FriendlyName)
	assert.NotEqual(t, parts[1].Hash, parts[2].Hash)
}

func TestCreateFromSignedPayloadVerifiesThenSubmitsAttributedToSigner(t *testing.T) {
	dir := t.TempDir()
	blobs, err := fsstore.New(dir)
	require.NoError(t, err)
	repo := newFakeDocRepo()
	svc := NewService(repo, &fakeLedgerRepo{balance: 100}, blobs)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams
	sp, err := payload.Sign(priv, []byte("hello world"), params)
	require.NoError(t, err)

	rec, err := svc.CreateFromSignedPayload(context.Background(), 1, nil, sp, params)
	require.NoError(t, err)
	assert.Equal(t, sp.Signer, rec.Signer)
	assert.Equal(t, StatusFunded, rec.Status)
}

func TestCreateFromSignedPayloadRejectsBadSignature(t *testing.T) {
	dir := t.TempDir()
	blobs, err := fsstore.New(dir)
	require.NoError(t, err)
	svc := NewService(newFakeDocRepo(), &fakeLedgerRepo{balance: 100}, blobs)

	sp := payload.SignedPayload{Payload: []byte("hello"), Signer: "bc1qnotreal", Signature: []byte("garbage")}
	_, err = svc.CreateFromSignedPayload(context.Background(), 1, nil, sp, &chaincfg.RegressionNetParams)
	require.Error(t, err)
}
