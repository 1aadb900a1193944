package fsm

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-network/lattice/lib"
)

/*
	The finalizer maps transaction ids to their lifecycle and serves the wait protocol.
	Each tracked transaction owns a done channel closed exactly once, on its terminal
	transition; any number of waiters can multiplex on it without delaying each other.
	A timed out wait is purely a client visible signal: the transaction keeps its
	status and a later commit event still lands and wakes subsequent waiters.
*/

// txnState is the tracked lifecycle of one transaction
type txnState struct {
	status     lib.TxStatus
	result     lib.HexBytes
	jsonResult []byte
	done       chan struct{} // closed on the terminal transition
}

// Finalizer consumes commit events and exposes the wait-for-result protocol
type Finalizer struct {
	mu      sync.Mutex
	log     lib.LoggerI
	fees    *FeeLedger
	metrics *lib.Metrics
	txns    map[string]*txnState
}

// NewFinalizer() creates a finalizer backed by the given fee ledger
func NewFinalizer(fees *FeeLedger, metrics *lib.Metrics, log lib.LoggerI) *Finalizer {
	return &Finalizer{
		log:     log,
		fees:    fees,
		metrics: metrics,
		txns:    make(map[string]*txnState),
	}
}

// Register() starts tracking a transaction in the Pending state
func (f *Finalizer) Register(transactionID []byte) lib.ErrorI {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.txns[string(transactionID)]; ok {
		return lib.ErrDuplicateTransaction(transactionID)
	}
	f.txns[string(transactionID)] = newTxnState()
	return nil
}

// Dispatch() marks a pending transaction's command as included in a proposed block
func (f *Finalizer) Dispatch(transactionID []byte) lib.ErrorI {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.trackLocked(transactionID)
	if state.status.IsTerminal() {
		return lib.ErrTxnAlreadyFinal(transactionID)
	}
	state.status = lib.TxStatusDispatched
	return nil
}

// Errored() records a local failure outside the commit pipeline, a terminal state
func (f *Finalizer) Errored(transactionID []byte, reason string) lib.ErrorI {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.trackLocked(transactionID)
	if state.status.IsTerminal() {
		return lib.ErrTxnAlreadyFinal(transactionID)
	}
	f.settleLocked(transactionID, state, lib.TxStatusErrored, []byte(reason))
	return nil
}

// ApplyCommit() finalizes every transaction behind a committed block's commands.
// A failure in one transaction never blocks or corrupts the others in the block
func (f *Finalizer) ApplyCommit(block *lib.Block) lib.ErrorI {
	if block == nil {
		return lib.ErrNilBlock()
	}
	for _, command := range block.Commands {
		if err := f.finalizeCommand(command); err != nil {
			f.log.Warnf("Finalizing transaction %s failed: %s",
				lib.BytesToTruncatedString(command.TransactionID), err.Error())
		}
	}
	return nil
}

// finalizeCommand() executes one command, settles its fee on success, and moves the
// transaction to its terminal state
func (f *Finalizer) finalizeCommand(command *lib.Command) lib.ErrorI {
	result, breakdown, rejectReason := executeCommand(command)
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.trackLocked(command.TransactionID)
	if state.status.IsTerminal() {
		return lib.ErrTxnAlreadyFinal(command.TransactionID)
	}
	if rejectReason != "" {
		// a rejected command carries its reason as the result and is never charged
		f.settleLocked(command.TransactionID, state, lib.TxStatusRejected, []byte(rejectReason))
		return nil
	}
	if _, err := f.fees.Charge(command.TransactionID, breakdown); err != nil {
		f.settleLocked(command.TransactionID, state, lib.TxStatusErrored, []byte(err.Error()))
		return err
	}
	f.settleLocked(command.TransactionID, state, lib.TxStatusCommitted, result)
	return nil
}

// Query() returns the current view of a transaction without waiting
func (f *Finalizer) Query(transactionID []byte) (*lib.TransactionWaitResult, lib.ErrorI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.txns[string(transactionID)]
	if !ok {
		return nil, lib.ErrUnknownTransaction(transactionID)
	}
	return f.snapshotLocked(transactionID, state, false), nil
}

// AwaitResult() blocks until the transaction reaches a terminal state, the timeout
// elapses, or the context is cancelled. On timeout the current status is returned
// with TimedOut set and the transaction itself is left untouched; cancellation is
// reported as an error so TimedOut means exactly that the wait bound elapsed
func (f *Finalizer) AwaitResult(ctx context.Context, transactionID []byte, timeout time.Duration) (*lib.TransactionWaitResult, lib.ErrorI) {
	f.mu.Lock()
	state, ok := f.txns[string(transactionID)]
	if !ok {
		f.mu.Unlock()
		return nil, lib.ErrUnknownTransaction(transactionID)
	}
	if state.status.IsTerminal() {
		defer f.mu.Unlock()
		return f.snapshotLocked(transactionID, state, false), nil
	}
	done := state.done
	f.mu.Unlock()
	f.metrics.WaiterStarted()
	defer f.metrics.WaiterEnded()
	timer := time.NewTimer(timeout)
	defer lib.StopTimer(timer)
	select {
	case <-done:
		return f.snapshot(transactionID, false), nil
	case <-timer.C:
		return f.snapshot(transactionID, true), nil
	case <-ctx.Done():
		return nil, lib.ErrAwaitCancelled(ctx.Err())
	}
}

// snapshot() takes the lock and captures the transaction's current view
func (f *Finalizer) snapshot(transactionID []byte, timedOut bool) *lib.TransactionWaitResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(transactionID, f.txns[string(transactionID)], timedOut)
}

// snapshotLocked() builds the external wait result shape; the caller must hold the lock
func (f *Finalizer) snapshotLocked(transactionID []byte, state *txnState, timedOut bool) *lib.TransactionWaitResult {
	return &lib.TransactionWaitResult{
		TransactionID: transactionID,
		Result:        state.result,
		JSONResult:    state.jsonResult,
		Status:        state.status,
		FinalFee:      f.fees.TotalFor(transactionID),
		TimedOut:      timedOut,
	}
}

// trackLocked() returns the state for a transaction, registering it as Pending if it
// was never seen; the caller must hold the lock
func (f *Finalizer) trackLocked(transactionID []byte) *txnState {
	state, ok := f.txns[string(transactionID)]
	if !ok {
		state = newTxnState()
		f.txns[string(transactionID)] = state
	}
	return state
}

// settleLocked() moves a transaction into a terminal state and wakes every waiter;
// the caller must hold the lock
func (f *Finalizer) settleLocked(transactionID []byte, state *txnState, status lib.TxStatus, result []byte) {
	state.status = status
	state.result = result
	if jsonResult, err := lib.MarshalJSON(lib.HexBytes(result)); err == nil {
		state.jsonResult = jsonResult
	}
	close(state.done)
	f.metrics.TxnFinalized(status.String())
	f.log.Infof("Transaction %s finalized with status %s",
		lib.BytesToTruncatedString(transactionID), status.String())
}

// newTxnState() creates a Pending transaction record with its broadcast channel
func newTxnState() *txnState {
	return &txnState{status: lib.TxStatusPending, done: make(chan struct{})}
}
