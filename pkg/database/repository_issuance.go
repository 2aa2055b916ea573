package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bitcertify/certify/pkg/issuance"
)

// IssuanceRepository implements issuance.Repository against Postgres.
type IssuanceRepository struct {
	db *sql.DB
}

// NewIssuanceRepository builds an IssuanceRepository.
func NewIssuanceRepository(db *sql.DB) *IssuanceRepository {
	return &IssuanceRepository{db: db}
}

func (r *IssuanceRepository) Insert(ctx context.Context, rec issuance.Record, entries []issuance.Entry) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO issuances (organization_id, name, status, template_key) VALUES ($1, $2, $3, $4) RETURNING id`,
		rec.OrganizationID, rec.Name, string(rec.Status), rec.TemplateKey,
	).Scan(&id); err != nil {
		return 0, err
	}

	for _, e := range entries {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issuance_entries (issuance_id, row_number, params, status) VALUES ($1, $2, $3, $4)`,
			id, e.RowNumber, params, string(e.Status)); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *IssuanceRepository) SetStatus(ctx context.Context, id int64, status issuance.Status) error {
	_, err := r.db.ExecContext(ctx, `UPDATE issuances SET status = $2 WHERE id = $1`, id, string(status))
	return err
}

func (r *IssuanceRepository) SetEntryResult(ctx context.Context, entryID int64, documentID int64, status issuance.EntryStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE issuance_entries SET document_id = $2, status = $3 WHERE id = $1`,
		entryID, documentID, string(status))
	return err
}

func (r *IssuanceRepository) SetEntryFailed(ctx context.Context, entryID int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE issuance_entries SET status = 'failed', error = $2 WHERE id = $1`, entryID, errMsg)
	return err
}

func (r *IssuanceRepository) PendingEntries(ctx context.Context, issuanceID int64) ([]issuance.Entry, error) {
	return r.entriesInStatus(ctx, issuanceID, issuance.EntryPending)
}

func (r *IssuanceRepository) CreatedEntries(ctx context.Context, issuanceID int64) ([]issuance.Entry, error) {
	return r.entriesInStatus(ctx, issuanceID, issuance.EntryCreated)
}

func (r *IssuanceRepository) SignedEntries(ctx context.Context, issuanceID int64) ([]issuance.Entry, error) {
	return r.entriesInStatus(ctx, issuanceID, issuance.EntrySigned)
}

func (r *IssuanceRepository) entriesInStatus(ctx context.Context, issuanceID int64, status issuance.EntryStatus) ([]issuance.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, row_number, params, rendered_payload, document_id, notified
		 FROM issuance_entries WHERE issuance_id = $1 AND status = $2 ORDER BY row_number`,
		issuanceID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []issuance.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		e.IssuanceID = issuanceID
		e.Status = status
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanEntry reads the common issuance_entries column set. row is
// whatever *sql.Rows.Scan accepts; GetEntry reuses it via QueryRowContext.
func scanEntry(row interface{ Scan(...any) error }) (issuance.Entry, error) {
	var e issuance.Entry
	var rawParams []byte
	var documentID sql.NullInt64
	if err := row.Scan(&e.ID, &e.RowNumber, &rawParams, &e.RenderedPayload, &documentID, &e.Notified); err != nil {
		return issuance.Entry{}, err
	}
	if err := json.Unmarshal(rawParams, &e.Params); err != nil {
		return issuance.Entry{}, err
	}
	if documentID.Valid {
		e.DocumentID = &documentID.Int64
	}
	return e, nil
}

func (r *IssuanceRepository) SetEntryRendered(ctx context.Context, entryID int64, payload []byte, status issuance.EntryStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE issuance_entries SET rendered_payload = $2, status = $3 WHERE id = $1`,
		entryID, payload, string(status))
	return err
}

func (r *IssuanceRepository) SetEntryNotified(ctx context.Context, entryID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE issuance_entries SET notified = true WHERE id = $1`, entryID)
	return err
}

func (r *IssuanceRepository) GetEntry(ctx context.Context, entryID int64) (issuance.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, row_number, params, rendered_payload, document_id, notified, issuance_id, status
		 FROM issuance_entries WHERE id = $1`, entryID)

	var e issuance.Entry
	var rawParams []byte
	var documentID sql.NullInt64
	var status string
	if err := row.Scan(&e.ID, &e.RowNumber, &rawParams, &e.RenderedPayload, &documentID, &e.Notified, &e.IssuanceID, &status); err != nil {
		return issuance.Entry{}, err
	}
	if err := json.Unmarshal(rawParams, &e.Params); err != nil {
		return issuance.Entry{}, err
	}
	if documentID.Valid {
		e.DocumentID = &documentID.Int64
	}
	e.Status = issuance.EntryStatus(status)
	return e, nil
}

// GetRecord returns the issuance row's own fields (not its entries).
func (r *IssuanceRepository) GetRecord(ctx context.Context, issuanceID int64) (issuance.Record, error) {
	var rec issuance.Record
	var status string
	var templateKey sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, status, template_key FROM issuances WHERE id = $1`, issuanceID,
	).Scan(&rec.ID, &rec.OrganizationID, &rec.Name, &status, &templateKey)
	if err != nil {
		return issuance.Record{}, err
	}
	rec.Status = issuance.Status(status)
	if templateKey.Valid {
		rec.TemplateKey = templateKey.String
	}
	return rec, nil
}

// IssuancesByStatus lists issuance ids across every organization in the
// given status, for the worker loop's creator/completer cadences.
func (r *IssuanceRepository) IssuancesByStatus(ctx context.Context, status issuance.Status) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM issuances WHERE status = $1`, string(status))
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

var _ issuance.Repository = (*IssuanceRepository)(nil)
