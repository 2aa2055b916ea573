// Package document implements the document workflow: admission (size
// sniffing, cost computation, parking behind insufficient balance),
// indexing of container formats into individually-hashed parts, funding,
// and the parked-document sweeper.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gabriel-vasile/mimetype"

	"github.com/bitcertify/certify/pkg/cerr"
	"github.com/bitcertify/certify/pkg/ledger"
	"github.com/bitcertify/certify/pkg/payload"
	"github.com/bitcertify/certify/pkg/store"
)

// Status mirrors spec.md's document lifecycle.
type Status string

const (
	StatusReceived Status = "received"
	StatusParked   Status = "parked"
	StatusFunded   Status = "funded"
	StatusDeleted  Status = "deleted"
)

// Part is one hashed, independently stored unit of a document: the whole
// file for a simple upload, or one member for a container format (ZIP,
// rfc822 email). FriendlyName, MimeType and IsBase mirror spec.md's
// DocumentPart attributes; IsBase marks the raw original upload (the
// whole ZIP, the whole email, or the whole file for a simple upload).
type Part struct {
	Hash          string // hex sha256
	FriendlyName  string
	MimeType      string
	SizeBytes     int64
	IsBase        bool
	StorageKey    store.Key
	SignatureHash string // hex sha256 of the submitter's signature over the document, recorded per part
}

// Record is the persisted document row.
type Record struct {
	ID             int64
	OrganizationID int64
	GiftID         *int64
	Signer         string // the address that signed the originating SignedPayload
	PersonID       int64  // the persons row matching Signer, resolved on insert
	PubKeyHash     string // hex sha256 fingerprint of Signer, folded into the bulletin payload
	BulletinID     *int64
	SizeBytes      int64
	CostBytes      int64
	ContentType    string
	Status         Status
	StorageKey     store.Key
	CreatedAt      time.Time
	FundedAt       *time.Time
}

// Repository persists documents and their parts.
type Repository interface {
	Insert(ctx context.Context, rec Record, parts []Part) (int64, error)
	MarkDeleted(ctx context.Context, id int64) error
	ParkedOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error)
	// Published reports whether id's owning bulletin has reached
	// bulletin.Published, for issuance.TryComplete's completion gate.
	Published(ctx context.Context, id int64) (bool, error)
}

// Service implements admission and indexing.
type Service struct {
	repo    Repository
	ledger  ledger.Repository
	blobs   store.Store
	now     func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, ledgerRepo ledger.Repository, blobs store.Store) *Service {
	return &Service{repo: repo, ledger: ledgerRepo, blobs: blobs, now: time.Now}
}

// CreateFromSignedPayload verifies sp against params, then admits
// sp.Payload as a new document recording sp.Signer, implementing
// spec.md §8's create_from_signed_payload round-trip. Document ids are
// assigned by the database, not derived from content: a caller who
// retries after a network failure gets a second document with a new id,
// whose parts carry the same content hashes as the first.
func (s *Service) CreateFromSignedPayload(ctx context.Context, organizationID int64, giftID *int64, sp payload.SignedPayload, params *chaincfg.Params) (Record, error) {
	if err := payload.Verify(sp, params); err != nil {
		return Record{}, err
	}
	return s.Submit(ctx, organizationID, giftID, sp.Signer, sp.Signature, sp.Payload)
}

// Submit admits data as a new document for organizationID, attributed to
// signer. It sniffs the content type, computes cost, indexes container
// formats into parts, stores every part's bytes, and triggers funding.
// Documents the balance can't cover stay unfunded (the stored row keeps
// Status=Received) and come back with Status=Parked instead of failing.
// signature is the raw compact signature bytes from
// the originating SignedPayload, if any; it is recorded per part per
// spec.md §3's "signatures from the submitter are recorded per part".
func (s *Service) Submit(ctx context.Context, organizationID int64, giftID *int64, signer string, signature []byte, data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, cerr.NewValidation("document", "empty")
	}

	contentType := sniff(data)
	cost := ledger.CostOf(int64(len(data)))

	indexed, err := indexPartsWithData(data, contentType)
	if err != nil {
		return Record{}, err
	}

	var sigHash string
	if len(signature) > 0 {
		sigHash = hashHex(signature)
	}

	parts := make([]Part, len(indexed))
	var whole store.Key
	for i, ip := range indexed {
		if err := s.blobs.Put(ctx, ip.part.StorageKey, ip.data); err != nil {
			return Record{}, cerr.NewTransient(err)
		}
		ip.part.SignatureHash = sigHash
		parts[i] = ip.part
		if ip.part.IsBase {
			whole = ip.part.StorageKey
		}
	}

	// pubkeyHash stands in for the signer's public-key fingerprint: a
	// P2WPKH address already encodes hash160(pubkey), so re-hashing the
	// address string gives a stable per-signer fingerprint without
	// needing network params (or a real address) at ingestion time.
	pubkeyHash := hashHex([]byte(signer))

	rec := Record{
		OrganizationID: organizationID,
		GiftID:         giftID,
		Signer:         signer,
		PubKeyHash:     pubkeyHash,
		SizeBytes:      int64(len(data)),
		CostBytes:      cost,
		ContentType:    contentType,
		Status:         StatusReceived,
		StorageKey:     whole,
		CreatedAt:      s.now(),
	}

	id, err := s.repo.Insert(ctx, rec, parts)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id

	funded, err := s.ledger.FundAll(ctx, organizationID)
	if err != nil {
		return Record{}, err
	}
	if !contains(funded, id) {
		rec.Status = StatusParked
	} else {
		rec.Status = StatusFunded
		now := s.now()
		rec.FundedAt = &now
	}

	return rec, nil
}

// Published reports whether id's owning bulletin has been published to
// Bitcoin, the condition issuance.TryComplete waits on.
func (s *Service) Published(ctx context.Context, id int64) (bool, error) {
	return s.repo.Published(ctx, id)
}

// SweepParked deletes documents that have sat unfunded past cutoff,
// matching spec.md's delete_old_parked_interval policy.
func (s *Service) SweepParked(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-parkedRetention)
	ids, err := s.repo.ParkedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.repo.MarkDeleted(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// parkedRetention is overridden by the caller's configured
// delete_old_parked_interval; exported via SetParkedRetention for wiring.
var parkedRetention = 40 * 24 * time.Hour

// SetParkedRetention configures how long a parked document survives
// before the sweeper deletes it.
func SetParkedRetention(d time.Duration) { parkedRetention = d }

func sniff(data []byte) string {
	mt := mimetype.Detect(data)
	ct := mt.String()

	// Office Open XML formats sniff as generic ZIP; disambiguate by the
	// well-known internal member Office writes first.
	if ct == "application/zip" {
		if looksLikeDocx(data) {
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		}
		if looksLikeXlsx(data) {
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
	}
	return ct
}

func looksLikeDocx(data []byte) bool {
	return bytes.Contains(data[:min(len(data), 4096)], []byte("word/"))
}

func looksLikeXlsx(data []byte) bool {
	return bytes.Contains(data[:min(len(data), 4096)], []byte("xl/"))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func isOfficeOrZip(contentType string) bool {
	return strings.HasPrefix(contentType, "application/zip") || strings.Contains(contentType, "openxmlformats")
}
