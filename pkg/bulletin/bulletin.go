// Package bulletin implements the bulletin state machine: the unit of
// commitment to Bitcoin. A bulletin accumulates content hashes while in
// Draft, freezes them into a payload hash when Proposed, is broadcast as
// an OP_RETURN transaction while Submitted (including fee bumps), and
// becomes immutable once Published.
//
// States are modeled as distinct Go types wrapping a shared record, per
// the sum-of-states design: an operation that requires a specific state
// takes the typed witness for that state, so the compiler rejects e.g.
// submitting a Draft.
package bulletin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitcertify/certify/pkg/cerr"
)

// Status tags a Record's current state; Go code should prefer the typed
// wrappers below, but Status is what's actually persisted.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusProposed  Status = "proposed"
	StatusSubmitted Status = "submitted"
	StatusPublished Status = "published"
)

// Bump records one fee-bump transaction for a submitted bulletin.
type Bump struct {
	Counter   int // 1-based
	RawTx     string
	TxHash    string
	StartedAt time.Time
}

// Record is the full row for a bulletin, regardless of state.
type Record struct {
	ID          int64
	Status      Status
	StartedAt   time.Time
	SubmittedAt *time.Time
	PayloadHash string
	RawTx       string
	TxHash      string
	BlockHash   string
	BlockTime   *time.Time
	Bumps       []Bump
}

// Draft is a bulletin still accepting new content.
type Draft struct{ rec Record }

// Proposed is a bulletin whose payload hash has been frozen; it is not
// yet broadcast.
type Proposed struct{ rec Record }

// Submitted is a bulletin whose transaction has been broadcast but is not
// yet confirmed (or is awaiting fee bumps).
type Submitted struct{ rec Record }

// Published is a bulletin confirmed on-chain; terminal state.
type Published struct{ rec Record }

func (d Draft) Record() Record     { return d.rec }
func (p Proposed) Record() Record  { return p.rec }
func (s Submitted) Record() Record { return s.rec }
func (p Published) Record() Record { return p.rec }

// asDraft wraps a raw Record in its typed state, or fails if the record's
// Status doesn't match what the caller expected; asProposed and
// asSubmitted do the same for their states.
func asDraft(r Record) (Draft, error) {
	if r.Status != StatusDraft {
		return Draft{}, cerr.NewInvalidFlowState("bulletin", string(r.Status), "propose")
	}
	return Draft{r}, nil
}

func asProposed(r Record) (Proposed, error) {
	if r.Status != StatusProposed {
		return Proposed{}, cerr.NewInvalidFlowState("bulletin", string(r.Status), "submit")
	}
	return Proposed{r}, nil
}

func asSubmitted(r Record) (Submitted, error) {
	if r.Status != StatusSubmitted {
		return Submitted{}, cerr.NewInvalidFlowState("bulletin", string(r.Status), "publish")
	}
	return Submitted{r}, nil
}

// AsProposed wraps a Record loaded from storage as a Proposed, for
// callers (like pkg/wallet's Process) that dispatch on Record.Status.
func AsProposed(r Record) (Proposed, error) { return asProposed(r) }

// AsSubmitted wraps a Record loaded from storage as a Submitted.
func AsSubmitted(r Record) (Submitted, error) { return asSubmitted(r) }

// Repository persists bulletin state. Implementations must serialize
// CurrentDraft against concurrent document-funding inserts (a row-level
// lock on the sentinel "current bulletin" row, or equivalent).
type Repository interface {
	// CurrentDraft returns the unique non-published bulletin, creating one
	// implicitly if none exists.
	CurrentDraft(ctx context.Context) (Record, error)
	// ContentHashes returns every hash pertaining to bulletinID: document
	// part hashes, pubkey hashes, signature hashes, endorsement evidence
	// hashes, and terms-acceptance hashes.
	ContentHashes(ctx context.Context, bulletinID int64) ([]string, error)
	SaveProposed(ctx context.Context, id int64, payloadHash string) error
	SaveSubmitted(ctx context.Context, id int64, rawTx, txHash string, submittedAt time.Time) error
	SavePublished(ctx context.Context, id int64, blockHash string, blockTime time.Time) error
	SaveResubmit(ctx context.Context, id int64, rawTx, txHash string) error
	SaveBump(ctx context.Context, bulletinID int64, bump Bump) error
}

// Service implements the state-machine operations described in spec.md
// §4.3 on top of a Repository.
type Service struct {
	repo         Repository
	minInterval  time.Duration
	bumpInterval time.Duration
	maxAutoBumps int
	now          func() time.Time
}

// NewService builds a Service. now defaults to time.Now; tests may
// override it.
func NewService(repo Repository, minInterval, bumpInterval time.Duration, maxAutoBumps int) *Service {
	return &Service{
		repo:         repo,
		minInterval:  minInterval,
		bumpInterval: bumpInterval,
		maxAutoBumps: maxAutoBumps,
		now:          time.Now,
	}
}

// CurrentDraft returns the current draft bulletin.
func (s *Service) CurrentDraft(ctx context.Context) (Draft, error) {
	rec, err := s.repo.CurrentDraft(ctx)
	if err != nil {
		return Draft{}, err
	}
	return asDraft(rec)
}

// ReadyToPropose reports whether d is old enough to propose.
func (s *Service) ReadyToPropose(d Draft) bool {
	return s.now().Sub(d.rec.StartedAt) > s.minInterval
}

// Propose freezes the draft's content into a payload hash and transitions
// it to Proposed. After this call, no new content may attach to this
// bulletin; the next document funding will implicitly create a new draft.
func (s *Service) Propose(ctx context.Context, d Draft) (Proposed, error) {
	if !s.ReadyToPropose(d) {
		return Proposed{}, cerr.NewInvalidFlowState("bulletin", "draft", "propose (too young)")
	}

	hashes, err := s.repo.ContentHashes(ctx, d.rec.ID)
	if err != nil {
		return Proposed{}, err
	}

	payload := BuildPayload(hashes)
	if payload == "" {
		return Proposed{}, cerr.NewValidation("bulletin", "empty_payload")
	}
	payloadHash := HashPayload(payload)

	if err := s.repo.SaveProposed(ctx, d.rec.ID, payloadHash); err != nil {
		return Proposed{}, err
	}

	d.rec.Status = StatusProposed
	d.rec.PayloadHash = payloadHash
	return asProposed(d.rec)
}

// Submit records the broadcast transaction for a proposed bulletin.
func (s *Service) Submit(ctx context.Context, p Proposed, rawTx, txHash string) (Submitted, error) {
	submittedAt := s.now()
	if err := s.repo.SaveSubmitted(ctx, p.rec.ID, rawTx, txHash, submittedAt); err != nil {
		return Submitted{}, err
	}
	p.rec.Status = StatusSubmitted
	p.rec.RawTx = rawTx
	p.rec.TxHash = txHash
	p.rec.SubmittedAt = &submittedAt
	return asSubmitted(p.rec)
}

// Publish records confirmation. confirmations must be >= 2.
func (s *Service) Publish(ctx context.Context, sub Submitted, blockHash string, blockTime time.Time, confirmations int) (Published, error) {
	if confirmations < 2 {
		return Published{}, cerr.NewNotReady("bulletin", "insufficient_confirmations")
	}
	if err := s.repo.SavePublished(ctx, sub.rec.ID, blockHash, blockTime); err != nil {
		return Published{}, err
	}
	sub.rec.Status = StatusPublished
	sub.rec.BlockHash = blockHash
	sub.rec.BlockTime = &blockTime
	return Published{sub.rec}, nil
}

// Resubmit rebuilds and replaces the transaction for a submitted bulletin
// that failed to propagate. Emergency use only.
func (s *Service) Resubmit(ctx context.Context, sub Submitted, rawTx, txHash string) (Submitted, error) {
	if err := s.repo.SaveResubmit(ctx, sub.rec.ID, rawTx, txHash); err != nil {
		return Submitted{}, err
	}
	sub.rec.RawTx = rawTx
	sub.rec.TxHash = txHash
	return sub, nil
}

// lastMovement is the most recent of submitted_at and the last bump.
func lastMovement(sub Submitted) time.Time {
	last := *sub.rec.SubmittedAt
	for _, b := range sub.rec.Bumps {
		if b.StartedAt.After(last) {
			last = b.StartedAt
		}
	}
	return last
}

// NeedsBump reports whether sub is eligible for an automatic fee bump:
// fewer than maxAutoBumps bumps so far, and bumpInterval has elapsed since
// the last movement.
func (s *Service) NeedsBump(sub Submitted) bool {
	if len(sub.rec.Bumps) >= s.maxAutoBumps {
		return false
	}
	return s.now().Sub(lastMovement(sub)) > s.bumpInterval
}

// NextBumpFeeRate computes the fee rate (sats/byte) for the next bump
// given the bulletin's fast fee-rate. Per spec.md's resolved Open
// Question, bump 1 is +10% and bump 2 is +20% of the fast rate (tests,
// not the as-written formula, are authoritative).
func NextBumpFeeRate(sub Submitted, satsPerByteFast float64) float64 {
	nextCounter := len(sub.rec.Bumps) + 1
	return satsPerByteFast * (1 + float64(nextCounter)/10)
}

// Bump appends a fee-bump record to sub and returns the updated Submitted.
func (s *Service) Bump(ctx context.Context, sub Submitted, rawTx, txHash string) (Submitted, error) {
	if len(sub.rec.Bumps) >= s.maxAutoBumps {
		return Submitted{}, cerr.NewInvalidFlowState("bulletin", "submitted", "bump (cap reached)")
	}
	bump := Bump{
		Counter:   len(sub.rec.Bumps) + 1,
		RawTx:     rawTx,
		TxHash:    txHash,
		StartedAt: s.now(),
	}
	if err := s.repo.SaveBump(ctx, sub.rec.ID, bump); err != nil {
		return Submitted{}, err
	}
	sub.rec.Bumps = append(sub.rec.Bumps, bump)
	sub.rec.RawTx = rawTx
	sub.rec.TxHash = txHash
	return sub, nil
}

// BuildPayload returns the sorted, deduplicated, newline-joined set of
// hashes that makes up a bulletin's OP_RETURN commitment.
func BuildPayload(hashes []string) string {
	seen := make(map[string]struct{}, len(hashes))
	uniq := make([]string, 0, len(hashes))
	for _, h := range hashes {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		uniq = append(uniq, h)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, "\n")
}

// HashPayload returns the lower-case hex SHA-256 of payload.
func HashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ETA estimates remaining time until publication, for user display. A
// nil return means "already published".
func ETA(status Status, startedAt time.Time, now time.Time) *time.Duration {
	switch status {
	case StatusDraft:
		age := now.Sub(startedAt)
		remaining := 60*time.Minute - age
		if remaining < 0 {
			remaining = 0
		}
		eta := remaining + 20*time.Minute
		return &eta
	case StatusProposed, StatusSubmitted:
		eta := 20 * time.Minute
		return &eta
	default:
		return nil
	}
}

// String implements fmt.Stringer for logging.
func (r Record) String() string {
	return fmt.Sprintf("bulletin#%d[%s]", r.ID, r.Status)
}
