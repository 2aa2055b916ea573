package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bitcertify/certify/pkg/bulletin"
)

// BulletinRepository implements bulletin.Repository against Postgres.
type BulletinRepository struct {
	db *sql.DB
}

// NewBulletinRepository builds a BulletinRepository.
func NewBulletinRepository(db *sql.DB) *BulletinRepository {
	return &BulletinRepository{db: db}
}

// CurrentDraft returns the single non-published bulletin, creating one if
// none exists. The row is locked FOR UPDATE only for this call's own
// transaction, which commits before CurrentDraft returns; the caller holds
// no lock on the bulletin afterwards.
func (r *BulletinRepository) CurrentDraft(ctx context.Context) (bulletin.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return bulletin.Record{}, err
	}
	defer tx.Rollback()

	rec, err := r.loadOpenTx(ctx, tx)
	if errors.Is(err, sql.ErrNoRows) {
		var id int64
		now := time.Now()
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO bulletins (status, started_at) VALUES ('draft', $1) RETURNING id`,
			now,
		).Scan(&id); err != nil {
			return bulletin.Record{}, err
		}
		rec = bulletin.Record{ID: id, Status: bulletin.StatusDraft, StartedAt: now}
	} else if err != nil {
		return bulletin.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return bulletin.Record{}, err
	}
	return rec, nil
}

// currentDraftBulletinIDTx returns the id of the single open (non-published)
// bulletin, creating one if none exists, using tx so a caller can fold the
// lookup into a larger transaction. LedgerRepository.FundAll uses this to
// stamp documents.bulletin_id atomically with funded_at, per spec.md
// §4.2's fund_all_documents step 4.
func currentDraftBulletinIDTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM bulletins WHERE status <> 'published' ORDER BY id DESC LIMIT 1 FOR UPDATE`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO bulletins (status, started_at) VALUES ('draft', now()) RETURNING id`,
		).Scan(&id)
	}
	return id, err
}

func (r *BulletinRepository) loadOpenTx(ctx context.Context, tx *sql.Tx) (bulletin.Record, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, status, started_at, submitted_at, payload_hash, raw_tx, tx_hash, block_hash, block_time
		FROM bulletins WHERE status <> 'published'
		ORDER BY id DESC LIMIT 1 FOR UPDATE`)
	return scanBulletin(row)
}

// Load fetches a bulletin by id, with its bumps.
func (r *BulletinRepository) Load(ctx context.Context, id int64) (bulletin.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, submitted_at, payload_hash, raw_tx, tx_hash, block_hash, block_time
		FROM bulletins WHERE id = $1`, id)
	rec, err := scanBulletin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bulletin.Record{}, ErrBulletinNotFound
	}
	if err != nil {
		return bulletin.Record{}, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT counter, raw_tx, tx_hash, started_at FROM bulletin_bumps WHERE bulletin_id = $1 ORDER BY counter`, id)
	if err != nil {
		return bulletin.Record{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b bulletin.Bump
		if err := rows.Scan(&b.Counter, &b.RawTx, &b.TxHash, &b.StartedAt); err != nil {
			return bulletin.Record{}, err
		}
		rec.Bumps = append(rec.Bumps, b)
	}
	return rec, rows.Err()
}

func scanBulletin(row *sql.Row) (bulletin.Record, error) {
	var rec bulletin.Record
	var status string
	var submittedAt, blockTime sql.NullTime
	var payloadHash, rawTx, txHash, blockHash sql.NullString

	if err := row.Scan(&rec.ID, &status, &rec.StartedAt, &submittedAt, &payloadHash, &rawTx, &txHash, &blockHash, &blockTime); err != nil {
		return bulletin.Record{}, err
	}

	rec.Status = bulletin.Status(status)
	if submittedAt.Valid {
		rec.SubmittedAt = &submittedAt.Time
	}
	if blockTime.Valid {
		rec.BlockTime = &blockTime.Time
	}
	rec.PayloadHash = payloadHash.String
	rec.RawTx = rawTx.String
	rec.TxHash = txHash.String
	rec.BlockHash = blockHash.String
	return rec, nil
}

// ContentHashes gathers every hash contributing to bulletinID's payload,
// per spec.md §4.3: document-part hashes, pubkey hashes, signature hashes,
// endorsement evidence hashes, and terms-acceptance hashes for every
// document funded into it. Service.Propose sorts, dedupes, and joins the
// result; order here doesn't matter.
func (r *BulletinRepository) ContentHashes(ctx context.Context, bulletinID int64) ([]string, error) {
	var hashes []string

	partRows, err := r.db.QueryContext(ctx, `
		SELECT dp.part_hash, COALESCE(dp.signature_hash, '')
		FROM document_parts dp
		JOIN documents d ON d.id = dp.document_id
		WHERE d.bulletin_id = $1`, bulletinID)
	if err != nil {
		return nil, err
	}
	defer partRows.Close()
	for partRows.Next() {
		var partHash, sigHash string
		if err := partRows.Scan(&partHash, &sigHash); err != nil {
			return nil, err
		}
		hashes = append(hashes, partHash)
		if sigHash != "" {
			hashes = append(hashes, sigHash)
		}
	}
	if err := partRows.Err(); err != nil {
		return nil, err
	}

	pubkeyRows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT pubkey_hash FROM documents
		WHERE bulletin_id = $1 AND pubkey_hash IS NOT NULL AND pubkey_hash <> ''`, bulletinID)
	if err != nil {
		return nil, err
	}
	defer pubkeyRows.Close()
	for pubkeyRows.Next() {
		var h string
		if err := pubkeyRows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	if err := pubkeyRows.Err(); err != nil {
		return nil, err
	}

	endorsementRows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT e.evidence
		FROM endorsements e
		JOIN documents d ON d.person_id = e.person_id
		WHERE d.bulletin_id = $1`, bulletinID)
	if err != nil {
		return nil, err
	}
	defer endorsementRows.Close()
	for endorsementRows.Next() {
		var evidence string
		if err := endorsementRows.Scan(&evidence); err != nil {
			return nil, err
		}
		hashes = append(hashes, evidenceHashHex(evidence))
	}
	if err := endorsementRows.Err(); err != nil {
		return nil, err
	}

	termsRows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ta.organization_id, ta.accepted_at
		FROM terms_acceptances ta
		JOIN documents d ON d.organization_id = ta.organization_id
		WHERE d.bulletin_id = $1 AND ta.accepted_at IS NOT NULL`, bulletinID)
	if err != nil {
		return nil, err
	}
	defer termsRows.Close()
	for termsRows.Next() {
		var orgID int64
		var acceptedAt time.Time
		if err := termsRows.Scan(&orgID, &acceptedAt); err != nil {
			return nil, err
		}
		hashes = append(hashes, termsAcceptanceHashHex(orgID, acceptedAt))
	}
	return hashes, termsRows.Err()
}

// evidenceHashHex mirrors endorsement.Record.EvidenceHash without
// depending on pkg/endorsement for a single line of hashing.
func evidenceHashHex(evidence string) string {
	sum := sha256.Sum256([]byte(evidence))
	return hex.EncodeToString(sum[:])
}

// termsAcceptanceHashHex derives the terms-acceptance hash folded into a
// bulletin's payload: every organization that contributed funded content
// gets one stable hash per acceptance event.
func termsAcceptanceHashHex(organizationID int64, acceptedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", organizationID, acceptedAt.UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (r *BulletinRepository) SaveProposed(ctx context.Context, id int64, payloadHash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bulletins SET status = 'proposed', payload_hash = $2 WHERE id = $1`, id, payloadHash)
	return err
}

func (r *BulletinRepository) SaveSubmitted(ctx context.Context, id int64, rawTx, txHash string, submittedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bulletins SET status = 'submitted', raw_tx = $2, tx_hash = $3, submitted_at = $4 WHERE id = $1`,
		id, rawTx, txHash, submittedAt)
	return err
}

func (r *BulletinRepository) SavePublished(ctx context.Context, id int64, blockHash string, blockTime time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bulletins SET status = 'published', block_hash = $2, block_time = $3 WHERE id = $1`,
		id, blockHash, blockTime)
	return err
}

func (r *BulletinRepository) SaveResubmit(ctx context.Context, id int64, rawTx, txHash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bulletins SET raw_tx = $2, tx_hash = $3 WHERE id = $1`, id, rawTx, txHash)
	return err
}

func (r *BulletinRepository) SaveBump(ctx context.Context, bulletinID int64, bump bulletin.Bump) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bulletin_bumps (bulletin_id, counter, raw_tx, tx_hash, started_at) VALUES ($1, $2, $3, $4, $5)`,
		bulletinID, bump.Counter, bump.RawTx, bump.TxHash, bump.StartedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bulletins SET raw_tx = $2, tx_hash = $3 WHERE id = $1`, bulletinID, bump.RawTx, bump.TxHash); err != nil {
		return err
	}
	return tx.Commit()
}

var _ bulletin.Repository = (*BulletinRepository)(nil)
