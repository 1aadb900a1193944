package fsm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChargeSumsBreakdown(t *testing.T) {
	ledger := NewFeeLedger()
	total, err := ledger.Charge([]byte("tx-1"), FeeBreakdown{
		FeeSourceStorage:            3,
		FeeSourceCompute:            4,
		FeeSourceConfidentialProofs: 5,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(12), total)
	require.Equal(t, uint64(12), ledger.TotalFor([]byte("tx-1")))
}

func TestChargeIdempotent(t *testing.T) {
	ledger := NewFeeLedger()
	breakdown := FeeBreakdown{FeeSourceStorage: 7, FeeSourceCompute: 3}
	first, err := ledger.Charge([]byte("tx-1"), breakdown)
	require.NoError(t, err)
	// the identical breakdown returns the same total and does not double count
	second, err := ledger.Charge([]byte("tx-1"), breakdown)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, uint64(10), ledger.TotalFor([]byte("tx-1")))
	// a different breakdown for a settled id is rejected
	_, err = ledger.Charge([]byte("tx-1"), FeeBreakdown{FeeSourceStorage: 8})
	require.ErrorContains(t, err, "already settled")
}

func TestChargeOverflow(t *testing.T) {
	ledger := NewFeeLedger()
	_, err := ledger.Charge([]byte("tx-1"), FeeBreakdown{
		FeeSourceStorage: math.MaxUint64,
		FeeSourceCompute: 1,
	})
	require.ErrorContains(t, err, "overflowed")
}

func TestChargeEmptyBreakdown(t *testing.T) {
	ledger := NewFeeLedger()
	_, err := ledger.Charge([]byte("tx-1"), nil)
	require.ErrorContains(t, err, "no fee entries")
}

func TestTotalForUnsettled(t *testing.T) {
	ledger := NewFeeLedger()
	require.Zero(t, ledger.TotalFor([]byte("never-seen")))
	require.Nil(t, ledger.BreakdownFor([]byte("never-seen")))
}

func TestBreakdownForIsACopy(t *testing.T) {
	ledger := NewFeeLedger()
	_, err := ledger.Charge([]byte("tx-1"), FeeBreakdown{FeeSourceStorage: 5})
	require.NoError(t, err)
	breakdown := ledger.BreakdownFor([]byte("tx-1"))
	breakdown[FeeSourceStorage] = 999
	require.Equal(t, uint64(5), ledger.BreakdownFor([]byte("tx-1"))[FeeSourceStorage])
}

func TestLeaderEarnings(t *testing.T) {
	ledger := NewFeeLedger()
	require.NoError(t, ledger.CreditLeader([]byte("leader-1"), 10))
	require.NoError(t, ledger.CreditLeader([]byte("leader-1"), 5))
	require.Equal(t, uint64(15), ledger.EarnedBy([]byte("leader-1")))
	require.Zero(t, ledger.EarnedBy([]byte("leader-2")))
}
