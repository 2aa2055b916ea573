// Package ledger implements strict-FIFO token admission control: every
// document costs ceil(size/1MiB) credit units, and funding is applied
// in (gift_id NULLS LAST, created_at) order, stopping at the first
// document the balance can't cover.
package ledger

import (
	"context"
)

const bytesPerCreditUnit = 1 << 20 // 1 MiB

// CostOf returns the credit cost of a document of sizeBytes.
func CostOf(sizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	return (sizeBytes + bytesPerCreditUnit - 1) / bytesPerCreditUnit
}

// UnfundedDocument is the minimal view Repository needs to run admission
// control: its identity, funding order key, and cost.
type UnfundedDocument struct {
	ID       int64
	GiftID   *int64
	Sequence int64 // monotonic tiebreaker matching created_at ordering
	Cost     int64
}

// AccountState is a derived read-model: balance, pending (parked) cost,
// and gift credit granted in the last 30 days. Never persisted; always recomputed
// from the same aggregate queries the funding transaction uses.
type AccountState struct {
	OrganizationID   int64
	BalanceBytes     int64
	PendingCostBytes int64
	GiftBudgetBytes  int64
}

// Available reports spendable balance net of anything already parked
// awaiting funding.
func (a AccountState) Available() int64 {
	avail := a.BalanceBytes - a.PendingCostBytes
	if avail < 0 {
		return 0
	}
	return avail
}

// Repository persists organization balances and funds documents.
type Repository interface {
	AccountState(ctx context.Context, organizationID int64) (AccountState, error)
	// FundAll funds as many of the organization's unfunded documents as the
	// balance allows, in FIFO order, and returns the IDs actually funded.
	// It must run as a single transaction that locks the organization row.
	// It is a no-op, returning no funded IDs, until AcceptTerms has been
	// called for the organization.
	FundAll(ctx context.Context, organizationID int64) ([]int64, error)
	// AcceptTerms records that the organization's admin has accepted the
	// terms of service, the gate fund_all_documents requires before it
	// will fund anything.
	AcceptTerms(ctx context.Context, organizationID int64) error
}

// Plan is the pure admission-control decision, exposed separately from
// Repository.FundAll so it can be unit tested without a database: given a
// balance and a FIFO-ordered document list, it returns which documents
// get funded and the balance remaining.
func Plan(balanceBytes int64, docs []UnfundedDocument) (funded []int64, remaining int64) {
	remaining = balanceBytes
	for _, d := range docs {
		if d.Cost > remaining {
			break
		}
		remaining -= d.Cost
		funded = append(funded, d.ID)
	}
	return funded, remaining
}
