package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/bitcertify/certify/pkg/ledger"
)

// LedgerRepository implements ledger.Repository against Postgres.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository builds a LedgerRepository.
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// AccountState recomputes balance, pending cost, and gift budget from the
// underlying tables; it holds no lock and is safe for read-only use.
func (r *LedgerRepository) AccountState(ctx context.Context, organizationID int64) (ledger.AccountState, error) {
	state := ledger.AccountState{OrganizationID: organizationID}

	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT SUM(amount_bytes) FROM funding_lines WHERE organization_id = $1), 0)
		     - COALESCE((SELECT SUM(cost_bytes) FROM documents WHERE organization_id = $1 AND funded_at IS NOT NULL), 0)`,
		organizationID,
	).Scan(&state.BalanceBytes); err != nil {
		return ledger.AccountState{}, err
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_bytes), 0) FROM documents WHERE organization_id = $1 AND funded_at IS NULL`,
		organizationID,
	).Scan(&state.PendingCostBytes); err != nil {
		return ledger.AccountState{}, err
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_bytes), 0) FROM funding_lines
		 WHERE organization_id = $1 AND gift_id IS NOT NULL AND created_at > now() - interval '30 days'`,
		organizationID,
	).Scan(&state.GiftBudgetBytes); err != nil {
		return ledger.AccountState{}, err
	}

	return state, nil
}

// FundAll locks the organization row, walks its
// unfunded documents in (gift_id NULLS LAST, created_at) order, and marks
// as many as the balance covers as funded. It is the sole writer of
// documents.funded_at and documents.bulletin_id.
func (r *LedgerRepository) FundAll(ctx context.Context, organizationID int64) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, organizationID); err != nil {
		return nil, err
	}

	var acceptedAt sql.NullTime
	if err := tx.QueryRowContext(ctx,
		`SELECT accepted_at FROM terms_acceptances WHERE organization_id = $1`, organizationID,
	).Scan(&acceptedAt); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if !acceptedAt.Valid {
		// Admin hasn't accepted terms yet: per spec.md §4.2, return
		// immediately and leave every unfunded document parked.
		return nil, tx.Commit()
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT SUM(amount_bytes) FROM funding_lines WHERE organization_id = $1), 0)
		     - COALESCE((SELECT SUM(cost_bytes) FROM documents WHERE organization_id = $1 AND funded_at IS NOT NULL), 0)`,
		organizationID,
	).Scan(&balance); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, gift_id, cost_bytes
		FROM documents
		WHERE organization_id = $1 AND funded_at IS NULL
		ORDER BY gift_id NULLS LAST, created_at`, organizationID)
	if err != nil {
		return nil, err
	}

	var docs []ledger.UnfundedDocument
	for rows.Next() {
		var d ledger.UnfundedDocument
		var giftID sql.NullInt64
		if err := rows.Scan(&d.ID, &giftID, &d.Cost); err != nil {
			rows.Close()
			return nil, err
		}
		if giftID.Valid {
			d.GiftID = &giftID.Int64
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	funded, _ := ledger.Plan(balance, docs)
	if len(funded) > 0 {
		draftID, err := currentDraftBulletinIDTx(ctx, tx)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET funded_at = $2, bulletin_id = $3 WHERE id = ANY($1)`,
			pq.Array(funded), time.Now(), draftID,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return funded, nil
}

// AcceptTerms records that organizationID's admin has accepted the terms
// of service, the gate FundAll requires before it will fund anything.
func (r *LedgerRepository) AcceptTerms(ctx context.Context, organizationID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO terms_acceptances (organization_id, accepted_at) VALUES ($1, now())
		ON CONFLICT (organization_id) DO UPDATE SET accepted_at = EXCLUDED.accepted_at`,
		organizationID)
	return err
}

// OrganizationsWithUnfundedDocuments lists organizations that currently
// have at least one document awaiting funding, for the funding-retry
// cadence to sweep.
func (r *LedgerRepository) OrganizationsWithUnfundedDocuments(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT organization_id FROM documents WHERE funded_at IS NULL`)
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

var _ ledger.Repository = (*LedgerRepository)(nil)
