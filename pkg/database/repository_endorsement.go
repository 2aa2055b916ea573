package database

import (
	"context"
	"database/sql"

	"github.com/bitcertify/certify/pkg/endorsement"
)

// EndorsementRepository implements endorsement.Repository against Postgres.
type EndorsementRepository struct {
	db *sql.DB
}

// NewEndorsementRepository builds an EndorsementRepository.
func NewEndorsementRepository(db *sql.DB) *EndorsementRepository {
	return &EndorsementRepository{db: db}
}

func (r *EndorsementRepository) ForPerson(ctx context.Context, personID int64) ([]endorsement.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, person_id, kind, evidence FROM endorsements WHERE person_id = $1`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []endorsement.Record
	for rows.Next() {
		var rec endorsement.Record
		var kind string
		if err := rows.Scan(&rec.ID, &rec.PersonID, &kind, &rec.Evidence); err != nil {
			return nil, err
		}
		rec.Kind = endorsement.Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ endorsement.Repository = (*EndorsementRepository)(nil)
