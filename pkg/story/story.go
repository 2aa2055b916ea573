// Package story implements the unit of proof rendering: a collection of
// related documents for one organization, optionally still "open" to
// accept new documents before a deadline.
package story

import (
	"context"
	"time"

	"github.com/bitcertify/certify/pkg/cerr"
)

// Record is the persisted story row.
type Record struct {
	ID             int64
	OrganizationID int64
	Name           string
	Open           bool
	Deadline       *time.Time
	CreatedAt      time.Time
}

// Repository persists stories and their document membership.
type Repository interface {
	// Snapshot resolves the story documentID belongs to: the story named
	// by storyID if given, otherwise the story already recorded on the
	// document. It does not attach the document to a story or create one.
	Snapshot(ctx context.Context, organizationID int64, storyID *int64, documentID int64) (Record, error)
	// DocumentIDs returns every document attached to storyID.
	DocumentIDs(ctx context.Context, storyID int64) ([]int64, error)
	Get(ctx context.Context, storyID int64) (Record, error)
	Close(ctx context.Context, storyID int64) error
}

// Service wraps Repository with the deadline-aware open/close behavior.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a Service. now defaults to time.Now.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Snapshot resolves documentID's story through Repository.Snapshot,
// failing first if storyID names a story that has already closed (past
// its deadline or explicitly closed). It does not attach documentID to a
// story.
func (s *Service) Snapshot(ctx context.Context, organizationID int64, storyID *int64, documentID int64) (Record, error) {
	if storyID != nil {
		rec, err := s.repo.Get(ctx, *storyID)
		if err != nil {
			return Record{}, err
		}
		if !s.isOpen(rec) {
			return Record{}, cerr.NewInvalidFlowState("story", "closed", "snapshot")
		}
	}
	return s.repo.Snapshot(ctx, organizationID, storyID, documentID)
}

// isOpen reports whether rec still accepts new documents: explicitly
// open and, if it has a deadline, not yet past it.
func (s *Service) isOpen(rec Record) bool {
	if !rec.Open {
		return false
	}
	if rec.Deadline != nil && !s.now().Before(*rec.Deadline) {
		return false
	}
	return true
}
