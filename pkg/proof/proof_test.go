package proof

import (
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitcertify/certify/pkg/cerr"
	"github.com/bitcertify/certify/pkg/endorsement"
	"github.com/bitcertify/certify/pkg/payload"
)

func TestRenderIncludesPartsAndBulletins(t *testing.T) {
	data := Data{
		DocumentID:  42,
		GeneratedAt: time.Now(),
		Parts:       []PartView{{Hash: "deadbeef"}},
		Bulletins:   []BulletinView{{TxHash: "abc123", Published: true}},
		AllPublished: true,
	}

	html, err := Render(data)
	require.NoError(t, err)
	assert.Contains(t, string(html), "deadbeef")
	assert.Contains(t, string(html), "abc123")
	assert.Contains(t, string(html), "All bulletins confirmed")
}

func TestRenderEscapesUntrustedContent(t *testing.T) {
	data := Data{Parts: []PartView{{Hash: "<script>alert(1)</script>"}}}
	html, err := Render(data)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(html), "<script>"))
}

func TestBuildAndSignProducesVerifiableSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams

	html, sig, err := BuildAndSign(Data{DocumentID: 1}, priv, params)
	require.NoError(t, err)
	assert.Equal(t, html, sig.Payload)
	require.NoError(t, payload.Verify(sig, params))
}

func TestExplorerURLEmptyForRegtest(t *testing.T) {
	assert.Equal(t, "", ExplorerURL("regtest", "abc"))
	assert.Contains(t, ExplorerURL("mainnet", "abc"), "abc")
}

func TestExplorerURLsForListsAllExplorers(t *testing.T) {
	urls := ExplorerURLsFor("mainnet", "abc123")
	assert.Len(t, urls, 2)
	for _, u := range urls {
		assert.Contains(t, u, "abc123")
	}
	assert.Empty(t, ExplorerURLsFor("regtest", "abc123"))
}

func TestOrderPartsBasePrefixThenMime(t *testing.T) {
	parts := []PartFile{
		{FriendlyName: "notes.txt", MimeType: "text/plain"},
		{FriendlyName: "02-appendix.pdf", MimeType: "application/pdf"},
		{FriendlyName: "full_zip_file", IsBase: true, MimeType: "application/zip"},
		{FriendlyName: "01-cover.pdf", MimeType: "application/pdf"},
		{FriendlyName: "photo.png", MimeType: "image/png"},
	}
	ordered := OrderParts(parts)
	names := make([]string, len(ordered))
	for i, p := range ordered {
		names[i] = p.FriendlyName
	}
	assert.Equal(t, []string{"full_zip_file", "01-cover.pdf", "02-appendix.pdf", "photo.png", "notes.txt"}, names)
}

func TestBuildStoryProofFailsWhenOnlyParkedDocuments(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams

	_, _, err = BuildStoryProof(StoryInput{
		StoryID:            1,
		PendingDocumentIDs: []int64{7},
	}, priv, params, time.Now())
	require.Error(t, err)
	var nr *cerr.NotReady
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, "DocumentParked", nr.Condition)
}

func TestBuildStoryProofFailsWaitingForBulletin(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams

	_, _, err = BuildStoryProof(StoryInput{
		StoryID: 1,
		PublishedDocuments: []DocumentFile{
			{DocumentID: 1, Signer: "addr1"},
		},
		Bulletins: []BulletinInfo{{ID: 1, Published: false}},
	}, priv, params, time.Now())
	require.Error(t, err)
	var nr *cerr.NotReady
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, "WaitForBulletin", nr.Condition)
}

func TestBuildStoryProofEmbedsPartsAndFlagsMissingKYC(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams

	html, sig, err := BuildStoryProof(StoryInput{
		StoryID: 9,
		PublishedDocuments: []DocumentFile{
			{
				DocumentID: 1,
				Signer:     "addr1",
				PersonID:   100,
				Parts: []PartFile{
					{Hash: "deadbeef", FriendlyName: "document.txt", MimeType: "text/plain", Data: []byte("hello world"), IsBase: true},
				},
			},
		},
		Bulletins: []BulletinInfo{{ID: 1, Published: true, TxHash: "txabc"}},
		Persons:   []PersonInfo{{ID: 100}},
		Network:   "mainnet",
	}, priv, params, time.Now())
	require.NoError(t, err)
	require.NoError(t, payload.Verify(sig, params))

	out := string(html)
	assert.Contains(t, out, "deadbeef")
	assert.Contains(t, out, "txabc")
	assert.Contains(t, out, "no verified identity")
	assert.Contains(t, out, "#100")
}

func TestBuildStoryProofNoCaveatWhenKYCPresent(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams

	html, _, err := BuildStoryProof(StoryInput{
		StoryID: 9,
		PublishedDocuments: []DocumentFile{
			{DocumentID: 1, Signer: "addr1", PersonID: 100, Parts: []PartFile{
				{Hash: "deadbeef", FriendlyName: "document.txt", MimeType: "text/plain", Data: []byte("hello"), IsBase: true},
			}},
		},
		Bulletins: []BulletinInfo{{ID: 1, Published: true, TxHash: "txabc"}},
		Persons:   []PersonInfo{{ID: 100, Endorsements: []endorsement.Record{{PersonID: 100, Kind: endorsement.KindKYC, Evidence: "verified"}}}},
		Network:   "mainnet",
	}, priv, params, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(html), "no verified identity")
}
