package database

import (
	"context"
	"database/sql"

	"github.com/bitcertify/certify/pkg/story"
)

// StoryRepository implements story.Repository against Postgres.
type StoryRepository struct {
	db *sql.DB
}

// NewStoryRepository builds a StoryRepository.
func NewStoryRepository(db *sql.DB) *StoryRepository {
	return &StoryRepository{db: db}
}

func (r *StoryRepository) Get(ctx context.Context, storyID int64) (story.Record, error) {
	return r.scanOne(ctx, `
		SELECT id, organization_id, name, open, deadline, created_at
		FROM stories WHERE id = $1`, storyID)
}

// Snapshot resolves the story a document belongs to: storyID if given,
// otherwise the story already recorded in documentID's story_id column.
// It neither sets story_id nor creates a story; no repository method
// writes documents.story_id.
func (r *StoryRepository) Snapshot(ctx context.Context, organizationID int64, storyID *int64, documentID int64) (story.Record, error) {
	if storyID != nil {
		return r.Get(ctx, *storyID)
	}
	return r.scanOne(ctx, `
		SELECT s.id, s.organization_id, s.name, s.open, s.deadline, s.created_at
		FROM stories s JOIN documents d ON d.story_id = s.id
		WHERE d.id = $1 AND s.organization_id = $2`, documentID, organizationID)
}

func (r *StoryRepository) DocumentIDs(ctx context.Context, storyID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM documents WHERE story_id = $1`, storyID)
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

// PendingRender returns the ids of stories with at least one document that
// have either never had a proof rendered or whose last rendered proof was
// not yet fully confirmed (some bulletin involved was still pending).
func (r *StoryRepository) PendingRender(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT d.story_id
		FROM documents d
		LEFT JOIN story_proofs sp ON sp.story_id = d.story_id
		WHERE d.story_id IS NOT NULL AND (sp.story_id IS NULL OR sp.fully_confirmed = false)`)
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

func (r *StoryRepository) Close(ctx context.Context, storyID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE stories SET open = false WHERE id = $1`, storyID)
	return err
}

func (r *StoryRepository) scanOne(ctx context.Context, query string, args ...any) (story.Record, error) {
	var rec story.Record
	var deadline sql.NullTime
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.OrganizationID, &rec.Name, &rec.Open, &deadline, &rec.CreatedAt)
	if err != nil {
		return story.Record{}, err
	}
	if deadline.Valid {
		rec.Deadline = &deadline.Time
	}
	return rec, nil
}

var _ story.Repository = (*StoryRepository)(nil)
