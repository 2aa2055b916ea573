package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/bitcertify/certify/pkg/document"
	"github.com/bitcertify/certify/pkg/store"
)

// DocumentRepository implements document.Repository against Postgres.
type DocumentRepository struct {
	db *sql.DB
}

// NewDocumentRepository builds a DocumentRepository.
func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Insert writes the document row and its parts in one transaction.
func (r *DocumentRepository) Insert(ctx context.Context, rec document.Record, parts []document.Part) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var giftID sql.NullInt64
	if rec.GiftID != nil {
		giftID = sql.NullInt64{Int64: *rec.GiftID, Valid: true}
	}

	var signer sql.NullString
	if rec.Signer != "" {
		signer = sql.NullString{String: rec.Signer, Valid: true}
	}

	var personID sql.NullInt64
	if rec.Signer != "" {
		var pid int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO persons (address) VALUES ($1)
			ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
			RETURNING id`, rec.Signer,
		).Scan(&pid); err != nil {
			return 0, err
		}
		personID = sql.NullInt64{Int64: pid, Valid: true}
	}

	var pubkeyHash sql.NullString
	if rec.PubKeyHash != "" {
		pubkeyHash = sql.NullString{String: rec.PubKeyHash, Valid: true}
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO documents (organization_id, gift_id, signer, person_id, pubkey_hash, size_bytes, cost_bytes, content_type, status, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		rec.OrganizationID, giftID, signer, personID, pubkeyHash, rec.SizeBytes, rec.CostBytes, rec.ContentType, string(rec.Status), rec.StorageKey.String(), rec.CreatedAt,
	).Scan(&id); err != nil {
		return 0, err
	}

	for _, p := range parts {
		var sigHash sql.NullString
		if p.SignatureHash != "" {
			sigHash = sql.NullString{String: p.SignatureHash, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_parts (document_id, part_hash, friendly_name, mime_type, size_bytes, is_base, storage_key, signature_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, p.Hash, p.FriendlyName, p.MimeType, p.SizeBytes, p.IsBase, p.StorageKey.String(), sigHash); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// MarkDeleted flips a document's status to deleted; blob garbage
// collection is handled out of band by the store backend's own
// lifecycle policy.
func (r *DocumentRepository) MarkDeleted(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET status = 'deleted' WHERE id = $1`, id)
	return err
}

// ParkedOlderThan returns ids of parked documents (unfunded, attached to
// no bulletin, not deleted) created before cutoff.
func (r *DocumentRepository) ParkedOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM documents
		 WHERE funded_at IS NULL AND bulletin_id IS NULL AND status <> 'deleted' AND created_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadForProof fetches a document and its parts as the proof renderer
// needs them: signer, person, bulletin attachment, and every part's
// storage key so its bytes can be embedded.
func (r *DocumentRepository) LoadForProof(ctx context.Context, id int64) (document.Record, []document.Part, error) {
	var rec document.Record
	var signer sql.NullString
	var personID, bulletinID sql.NullInt64
	var storageKey string
	if err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, signer, person_id, bulletin_id, storage_key
		FROM documents WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.OrganizationID, &signer, &personID, &bulletinID, &storageKey); err != nil {
		return document.Record{}, nil, err
	}
	rec.Signer = signer.String
	if personID.Valid {
		rec.PersonID = personID.Int64
	}
	if bulletinID.Valid {
		rec.BulletinID = &bulletinID.Int64
	}
	rec.StorageKey = storeKeyFromString(storageKey)

	rows, err := r.db.QueryContext(ctx, `
		SELECT part_hash, friendly_name, mime_type, size_bytes, is_base, storage_key
		FROM document_parts WHERE document_id = $1`, id)
	if err != nil {
		return document.Record{}, nil, err
	}
	defer rows.Close()

	var parts []document.Part
	for rows.Next() {
		var p document.Part
		var key string
		if err := rows.Scan(&p.Hash, &p.FriendlyName, &p.MimeType, &p.SizeBytes, &p.IsBase, &key); err != nil {
			return document.Record{}, nil, err
		}
		p.StorageKey = storeKeyFromString(key)
		parts = append(parts, p)
	}
	return rec, parts, rows.Err()
}

// storeKeyFromString splits a serialized store.Key (prefix immediately
// followed by its content-addressed id) back into its parts using the
// fixed prefixes the service writes; document parts always use "dp-".
func storeKeyFromString(s string) store.Key {
	const prefix = "dp-"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return store.Key{Prefix: prefix, ID: s[len(prefix):]}
	}
	return store.Key{ID: s}
}

// Published reports whether id's owning bulletin has status 'published'.
func (r *DocumentRepository) Published(ctx context.Context, id int64) (bool, error) {
	var published bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM documents d
			JOIN bulletins b ON b.id = d.bulletin_id
			WHERE d.id = $1 AND b.status = 'published'
		)`, id).Scan(&published)
	return published, err
}

var _ document.Repository = (*DocumentRepository)(nil)
