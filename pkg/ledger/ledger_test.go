package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostOfRoundsUpToWholeUnits(t *testing.T) {
	assert.Equal(t, int64(0), CostOf(0))
	assert.Equal(t, int64(1), CostOf(1))
	assert.Equal(t, int64(1), CostOf(bytesPerCreditUnit))
	assert.Equal(t, int64(2), CostOf(bytesPerCreditUnit+1))
}

func TestPlanStopsAtFirstUnaffordableDocument(t *testing.T) {
	docs := []UnfundedDocument{
		{ID: 1, Cost: 3},
		{ID: 2, Cost: 4},
		{ID: 3, Cost: 1},
	}

	funded, remaining := Plan(5, docs)
	assert.Equal(t, []int64{1}, funded, "only the first document fits; FIFO order never skips ahead")
	assert.Equal(t, int64(2), remaining)
}

func TestPlanFundsEverythingWhenBalanceSuffices(t *testing.T) {
	docs := []UnfundedDocument{{ID: 1, Cost: 1}, {ID: 2, Cost: 1}}
	funded, remaining := Plan(10, docs)
	assert.Equal(t, []int64{1, 2}, funded)
	assert.Equal(t, int64(8), remaining)
}

func TestAccountStateAvailableNeverNegative(t *testing.T) {
	a := AccountState{BalanceBytes: 5, PendingCostBytes: 10}
	assert.Equal(t, int64(0), a.Available())
}
