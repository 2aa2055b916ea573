package database

import (
	"context"
	"database/sql"
	"time"
)

// ProofRepository records the last rendered proof per story, so the
// proof-render worker cadence can skip stories whose proof is already
// fully confirmed.
type ProofRepository struct {
	db *sql.DB
}

// NewProofRepository builds a ProofRepository.
func NewProofRepository(db *sql.DB) *ProofRepository {
	return &ProofRepository{db: db}
}

// Save upserts storyID's rendered proof record.
func (r *ProofRepository) Save(ctx context.Context, storyID int64, storageKey, signature string, generatedAt time.Time, fullyConfirmed bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO story_proofs (story_id, storage_key, signature, generated_at, fully_confirmed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (story_id) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			signature = EXCLUDED.signature,
			generated_at = EXCLUDED.generated_at,
			fully_confirmed = EXCLUDED.fully_confirmed`,
		storyID, storageKey, signature, generatedAt, fullyConfirmed)
	return err
}
