package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/lib/crypto"
	"github.com/stretchr/testify/require"
)

func newTestFinalizer() *Finalizer {
	return NewFinalizer(NewFeeLedger(), nil, lib.NewNullLogger())
}

// newWithdrawBlock wraps a withdraw proof into a single command block
func newWithdrawBlock(t *testing.T, transactionID []byte, proof *crypto.WithdrawProof) *lib.Block {
	command, err := NewWithdrawCommand(transactionID, proof)
	require.NoError(t, err)
	return &lib.Block{Commands: []*lib.Command{command}}
}

func TestUnknownTransaction(t *testing.T) {
	f := newTestFinalizer()
	_, err := f.Query([]byte("never-seen"))
	require.ErrorContains(t, err, "not tracked")
	_, err = f.AwaitResult(context.Background(), []byte("never-seen"), time.Second)
	require.ErrorContains(t, err, "not tracked")
}

func TestRegisterAndDispatch(t *testing.T) {
	f := newTestFinalizer()
	require.NoError(t, f.Register([]byte("tx-1")))
	// a second registration of the same id is rejected
	require.ErrorContains(t, f.Register([]byte("tx-1")), "already tracked")
	result, err := f.Query([]byte("tx-1"))
	require.NoError(t, err)
	require.Equal(t, lib.TxStatusPending, result.Status)
	require.NoError(t, f.Dispatch([]byte("tx-1")))
	result, err = f.Query([]byte("tx-1"))
	require.NoError(t, err)
	require.Equal(t, lib.TxStatusDispatched, result.Status)
}

func TestAwaitTimeoutThenLaterCommit(t *testing.T) {
	f := newTestFinalizer()
	require.NoError(t, f.Register([]byte("tx-1")))
	// the wait times out without altering the transaction
	start := time.Now()
	result, err := f.AwaitResult(context.Background(), []byte("tx-1"), 50*time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.True(t, result.TimedOut)
	require.Equal(t, lib.TxStatusPending, result.Status)
	require.Empty(t, result.Result)
	require.Zero(t, result.FinalFee)
	// a later commit event still lands and a fresh query reflects it
	command, e := NewOpaqueCommand([]byte("tx-1"), []byte("data"))
	require.NoError(t, e)
	require.NoError(t, f.ApplyCommit(&lib.Block{Commands: []*lib.Command{command}}))
	result, err = f.Query([]byte("tx-1"))
	require.NoError(t, err)
	require.Equal(t, lib.TxStatusCommitted, result.Status)
	require.False(t, result.TimedOut)
	require.NotEmpty(t, result.Result)
	require.NotZero(t, result.FinalFee)
}

func TestAwaitCancelledByCaller(t *testing.T) {
	f := newTestFinalizer()
	require.NoError(t, f.Register([]byte("tx-1")))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan lib.ErrorI, 1)
	go func() {
		_, err := f.AwaitResult(ctx, []byte("tx-1"), 5*time.Second)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		// cancellation is an error, not a timed out snapshot
		require.ErrorContains(t, err, "cancelled by the caller")
	case <-time.After(time.Second):
		t.Fatal("cancelled wait never returned")
	}
	// the transaction itself is untouched and a later commit still lands
	result, err := f.Query([]byte("tx-1"))
	require.NoError(t, err)
	require.Equal(t, lib.TxStatusPending, result.Status)
	require.False(t, result.TimedOut)
}

func TestAwaitWakesOnCommit(t *testing.T) {
	f := newTestFinalizer()
	require.NoError(t, f.Register([]byte("tx-1")))
	done := make(chan *lib.TransactionWaitResult, 1)
	go func() {
		result, err := f.AwaitResult(context.Background(), []byte("tx-1"), 5*time.Second)
		if err == nil {
			done <- result
		}
	}()
	// give the waiter a moment to subscribe, then commit
	time.Sleep(20 * time.Millisecond)
	command, err := NewOpaqueCommand([]byte("tx-1"), []byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.ApplyCommit(&lib.Block{Commands: []*lib.Command{command}}))
	select {
	case result := <-done:
		require.Equal(t, lib.TxStatusCommitted, result.Status)
		require.False(t, result.TimedOut)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestManyWaitersWakeTogether(t *testing.T) {
	f := newTestFinalizer()
	require.NoError(t, f.Register([]byte("tx-1")))
	const waiters = 8
	done := make(chan lib.TxStatus, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			result, err := f.AwaitResult(context.Background(), []byte("tx-1"), 5*time.Second)
			if err == nil {
				done <- result.Status
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	command, err := NewOpaqueCommand([]byte("tx-1"), []byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.ApplyCommit(&lib.Block{Commands: []*lib.Command{command}}))
	for i := 0; i < waiters; i++ {
		select {
		case status := <-done:
			require.Equal(t, lib.TxStatusCommitted, status)
		case <-time.After(2 * time.Second):
			t.Fatal("a waiter never woke")
		}
	}
}

func TestWithdrawCommandCommitsWithRevealedFee(t *testing.T) {
	f := newTestFinalizer()
	input, err := crypto.NewOpenCommitment(50)
	require.NoError(t, err)
	proof, _, _, e := crypto.GenerateWithdrawProof([]*crypto.OpenCommitment{input}, 40, 10)
	require.NoError(t, e)
	require.NoError(t, f.ApplyCommit(newWithdrawBlock(t, []byte("tx-w"), proof)))
	result, err := f.Query([]byte("tx-w"))
	require.NoError(t, err)
	require.Equal(t, lib.TxStatusCommitted, result.Status)
	// the settled fee equals the proof's revealed fee
	require.Equal(t, uint64(10), result.FinalFee)
	require.Equal(t, uint64(10), f.fees.TotalFor([]byte("tx-w")))
}

func TestBalanceMismatchRejectsWithoutFee(t *testing.T) {
	f := newTestFinalizer()
	input, err := crypto.NewOpenCommitment(50)
	require.NoError(t, err)
	proof, _, _, e := crypto.GenerateWithdrawProof([]*crypto.OpenCommitment{input}, 40, 10)
	require.NoError(t, e)
	// unbalance the proof by lying about the fee
	proof.RevealedFee = 9
	require.NoError(t, f.ApplyCommit(newWithdrawBlock(t, []byte("tx-w"), proof)))
	result, err := f.Query([]byte("tx-w"))
	require.NoError(t, err)
	require.Equal(t, lib.TxStatusRejected, result.Status)
	// the result carries the rejection reason and no fee is charged
	require.Contains(t, string(result.Result), "balance mismatch")
	require.Zero(t, result.FinalFee)
}

func TestOneBadTransactionDoesNotBlockOthers(t *testing.T) {
	f := newTestFinalizer()
	good, err := NewOpaqueCommand([]byte("tx-good"), []byte("data"))
	require.NoError(t, err)
	bad := &lib.Command{TransactionID: []byte("tx-bad"), Payload: []byte("garbage")}
	require.NoError(t, f.ApplyCommit(&lib.Block{Commands: []*lib.Command{bad, good}}))
	result, e := f.Query([]byte("tx-good"))
	require.NoError(t, e)
	require.Equal(t, lib.TxStatusCommitted, result.Status)
	result, e = f.Query([]byte("tx-bad"))
	require.NoError(t, e)
	require.Equal(t, lib.TxStatusRejected, result.Status)
}

func TestFinalStateIsSticky(t *testing.T) {
	f := newTestFinalizer()
	command, err := NewOpaqueCommand([]byte("tx-1"), []byte("data"))
	require.NoError(t, err)
	block := &lib.Block{Commands: []*lib.Command{command}}
	require.NoError(t, f.ApplyCommit(block))
	first, e := f.Query([]byte("tx-1"))
	require.NoError(t, e)
	// replaying the commit event changes nothing
	require.NoError(t, f.ApplyCommit(block))
	second, e := f.Query([]byte("tx-1"))
	require.NoError(t, e)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.FinalFee, second.FinalFee)
	// dispatch after finality is rejected
	require.ErrorContains(t, f.Dispatch([]byte("tx-1")), "already reached a final status")
}
