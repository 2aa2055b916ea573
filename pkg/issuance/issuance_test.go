package issuance

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcertify/certify/pkg/payload"
)

func TestParseCSVBuildsOneEntryPerRow(t *testing.T) {
	csv := "name,email\nAlice,alice@example.com\nBob,bob@example.com\n"
	entries, err := ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Alice", entries[0].Params["name"])
	assert.Equal(t, 1, entries[0].RowNumber)
}

func TestParseCSVRejectsEmptyInput(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestParseJSONBuildsOneEntryPerElement(t *testing.T) {
	data := `[{"name":"Alice"},{"name":"Bob"}]`
	entries, err := ParseJSON(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Bob", entries[1].Params["name"])
}

func TestTranslateTeraSyntax(t *testing.T) {
	got := TranslateTeraSyntax("Hello {{ name }}, your id is {{id}}.")
	assert.Equal(t, "Hello {{.name}}, your id is {{.id}}.", got)
}

func TestRenderTemplateSubstitutesParams(t *testing.T) {
	var buf bytes.Buffer
	err := RenderTemplate(&buf, "Dear {{ name }},", map[string]string{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Dear Alice,", buf.String())
}

type fakeIssuanceRepo struct {
	entries map[int64]Entry
	status  Status
	nextID  int64
}

func newFakeIssuanceRepo() *fakeIssuanceRepo {
	return &fakeIssuanceRepo{entries: map[int64]Entry{}}
}

func (f *fakeIssuanceRepo) Insert(ctx context.Context, rec Record, entries []Entry) (int64, error) {
	for i := range entries {
		f.nextID++
		entries[i].ID = f.nextID
		f.entries[f.nextID] = entries[i]
	}
	return 1, nil
}
func (f *fakeIssuanceRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	f.status = status
	return nil
}
func (f *fakeIssuanceRepo) SetEntryRendered(ctx context.Context, entryID int64, payload []byte, status EntryStatus) error {
	e := f.entries[entryID]
	e.RenderedPayload = payload
	e.Status = status
	f.entries[entryID] = e
	return nil
}
func (f *fakeIssuanceRepo) SetEntryResult(ctx context.Context, entryID int64, documentID int64, status EntryStatus) error {
	e := f.entries[entryID]
	e.Status = status
	e.DocumentID = &documentID
	f.entries[entryID] = e
	return nil
}
func (f *fakeIssuanceRepo) SetEntryFailed(ctx context.Context, entryID int64, errMsg string) error {
	e := f.entries[entryID]
	e.Status = EntryFailed
	e.Error = errMsg
	f.entries[entryID] = e
	return nil
}
func (f *fakeIssuanceRepo) SetEntryNotified(ctx context.Context, entryID int64) error {
	e := f.entries[entryID]
	e.Notified = true
	f.entries[entryID] = e
	return nil
}
func (f *fakeIssuanceRepo) PendingEntries(ctx context.Context, issuanceID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.Status == EntryPending {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeIssuanceRepo) CreatedEntries(ctx context.Context, issuanceID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.Status == EntryCreated {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeIssuanceRepo) SignedEntries(ctx context.Context, issuanceID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range f.entries {
		if e.Status == EntrySigned {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeIssuanceRepo) GetEntry(ctx context.Context, entryID int64) (Entry, error) {
	e, ok := f.entries[entryID]
	if !ok {
		return Entry{}, errors.New("entry not found")
	}
	return e, nil
}
func (f *fakeIssuanceRepo) IssuancesByStatus(ctx context.Context, status Status) ([]int64, error) {
	if f.status == status {
		return []int64{1}, nil
	}
	return nil, nil
}
func (f *fakeIssuanceRepo) GetRecord(ctx context.Context, issuanceID int64) (Record, error) {
	return Record{ID: issuanceID, Status: f.status}, nil
}

func TestCreateMarksEntriesCreatedAndIssuanceCreated(t *testing.T) {
	repo := newFakeIssuanceRepo()
	entries, err := ParseCSV(strings.NewReader("name\nAlice\n"))
	require.NoError(t, err)
	_, err = repo.Insert(context.Background(), Record{}, entries)
	require.NoError(t, err)

	render := func(e Entry) ([]byte, error) { return []byte("cert for " + e.Params["name"]), nil }

	err = Create(context.Background(), repo, 1, render)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, repo.status)

	for _, e := range repo.entries {
		assert.Equal(t, EntryCreated, e.Status)
		assert.Equal(t, []byte("cert for Alice"), e.RenderedPayload)
	}
}

func TestSignNextVerifiesAndAdvancesThenReturnsNextEntry(t *testing.T) {
	repo := newFakeIssuanceRepo()
	entries, err := ParseCSV(strings.NewReader("name\nAlice\nBob\n"))
	require.NoError(t, err)
	_, err = repo.Insert(context.Background(), Record{}, entries)
	require.NoError(t, err)
	require.NoError(t, Create(context.Background(), repo, 1, func(e Entry) ([]byte, error) {
		return []byte("cert for " + e.Params["name"]), nil
	}))

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams

	var firstID int64
	for id, e := range repo.entries {
		if e.Params["name"] == "Alice" {
			firstID = id
		}
	}
	sp, err := payload.Sign(priv, repo.entries[firstID].RenderedPayload, params)
	require.NoError(t, err)

	createDocument := func(e Entry, signer string) (int64, error) { return 100 + e.ID, nil }

	next, err := SignNext(context.Background(), repo, 1, &EntrySignature{
		EntryID: firstID, Signature: sp.Signature, Signer: sp.Signer,
	}, params, createDocument)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, firstID, next.ID)
	assert.Equal(t, EntrySigned, repo.entries[firstID].Status)
	require.NotNil(t, repo.entries[firstID].DocumentID)

	next, err = SignNext(context.Background(), repo, 1, &EntrySignature{
		EntryID: next.ID, Signature: mustSign(t, priv, repo.entries[next.ID].RenderedPayload, params).Signature,
		Signer: sp.Signer,
	}, params, createDocument)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, StatusSigned, repo.status)
}

func mustSign(t *testing.T, priv *btcec.PrivateKey, data []byte, params *chaincfg.Params) payload.SignedPayload {
	t.Helper()
	sp, err := payload.Sign(priv, data, params)
	require.NoError(t, err)
	return sp
}

func TestSignNextRejectsEntryNotInCreatedState(t *testing.T) {
	repo := newFakeIssuanceRepo()
	entries, err := ParseCSV(strings.NewReader("name\nAlice\n"))
	require.NoError(t, err)
	_, err = repo.Insert(context.Background(), Record{}, entries)
	require.NoError(t, err)
	// Entry is still EntryPending, never passed through Create.

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams
	sp, err := payload.Sign(priv, []byte("whatever"), params)
	require.NoError(t, err)

	var id int64
	for k := range repo.entries {
		id = k
	}
	_, err = SignNext(context.Background(), repo, 1, &EntrySignature{EntryID: id, Signature: sp.Signature, Signer: sp.Signer}, params,
		func(e Entry, signer string) (int64, error) { return 1, nil })
	require.Error(t, err)
}

func TestTryCompleteRequiresPublishedAndNotified(t *testing.T) {
	repo := newFakeIssuanceRepo()
	entries, err := ParseCSV(strings.NewReader("name\nAlice\n"))
	require.NoError(t, err)
	_, err = repo.Insert(context.Background(), Record{}, entries)
	require.NoError(t, err)
	var id int64
	for k := range repo.entries {
		id = k
	}
	require.NoError(t, repo.SetEntryResult(context.Background(), id, 42, EntrySigned))

	require.NoError(t, TryComplete(context.Background(), repo, 1, func(docID int64) (bool, error) { return false, nil }))
	assert.NotEqual(t, StatusCompleted, repo.status)

	require.NoError(t, repo.SetEntryNotified(context.Background(), id))
	require.NoError(t, TryComplete(context.Background(), repo, 1, func(docID int64) (bool, error) { return true, nil }))
	assert.Equal(t, StatusCompleted, repo.status)
}

func TestExportCSVPrependsRequiredColumns(t *testing.T) {
	docID := int64(7)
	entries := []Entry{
		{ID: 1, Params: map[string]string{"name": "Alice"}, Status: EntryStatus(StatusCompleted), DocumentID: &docID, Notified: true},
	}
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, 9, "https://example.com/admin/9", []string{"name"}, entries))
	out := buf.String()
	assert.Contains(t, out, "state,notification_status,admin_access_url,issuance_id,entry_id,name")
	assert.Contains(t, out, "completed,notified,https://example.com/admin/9,9,1,Alice")
}
