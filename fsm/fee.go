package fsm

import (
	"math"
	"sync"

	"github.com/lattice-network/lattice/lib"
)

/*
	The fee ledger owns every settled fee record, keyed by transaction id. A record is
	written exactly once: re-charging with the identical breakdown is a harmless no-op
	returning the same total, re-charging with a different breakdown is rejected. The
	finalizer reads totals from here but never writes them.
*/

// FeeSource identifies where a fee component was incurred
type FeeSource uint32

const (
	FeeSourceStorage            FeeSource = iota // bytes persisted by the command
	FeeSourceCompute                             // execution of the command
	FeeSourceConfidentialProofs                  // verification of confidential proofs
)

// String() returns the human readable name of the fee source
func (s FeeSource) String() string {
	switch s {
	case FeeSourceStorage:
		return "storage"
	case FeeSourceCompute:
		return "compute"
	case FeeSourceConfidentialProofs:
		return "confidential-proofs"
	default:
		return "unknown"
	}
}

// FeeBreakdown maps fee sources to amounts; its sum is the transaction's final fee
type FeeBreakdown map[FeeSource]uint64

// Sum() adds up the breakdown entries, guarding against overflow
func (b FeeBreakdown) Sum() (total uint64, overflow bool) {
	for _, amount := range b {
		if amount > math.MaxUint64-total {
			return 0, true
		}
		total += amount
	}
	return total, false
}

// Equals() compares two breakdowns entry by entry
func (b FeeBreakdown) Equals(other FeeBreakdown) bool {
	if len(b) != len(other) {
		return false
	}
	for source, amount := range b {
		if other[source] != amount {
			return false
		}
	}
	return true
}

// feeRecord is one settled fee, immutable once written
type feeRecord struct {
	breakdown FeeBreakdown
	total     uint64
}

// FeeLedger tracks settled fees per transaction and leader earnings per proposer
type FeeLedger struct {
	mu       sync.RWMutex
	settled  map[string]*feeRecord // transaction id -> settled fee
	earnings map[string]uint64     // leader signing key -> credited fees
}

// NewFeeLedger() creates an empty ledger
func NewFeeLedger() *FeeLedger {
	return &FeeLedger{
		settled:  make(map[string]*feeRecord),
		earnings: make(map[string]uint64),
	}
}

// Charge() settles a fee breakdown for a transaction and returns the total.
// Charging twice with the identical breakdown returns the same total without
// double counting; a different breakdown for a settled id is rejected
func (l *FeeLedger) Charge(transactionID []byte, breakdown FeeBreakdown) (uint64, lib.ErrorI) {
	if len(breakdown) == 0 {
		return 0, lib.ErrEmptyBreakdown(transactionID)
	}
	total, overflow := breakdown.Sum()
	if overflow {
		return 0, lib.ErrFeeOverflow(transactionID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := string(transactionID)
	if existing, ok := l.settled[key]; ok {
		if existing.breakdown.Equals(breakdown) {
			return existing.total, nil
		}
		return 0, lib.ErrFeeAlreadySettled(transactionID)
	}
	// store a copy so callers cannot mutate the record afterwards
	stored := make(FeeBreakdown, len(breakdown))
	for source, amount := range breakdown {
		stored[source] = amount
	}
	l.settled[key] = &feeRecord{breakdown: stored, total: total}
	return total, nil
}

// TotalFor() returns the settled total for a transaction, zero if unsettled
func (l *FeeLedger) TotalFor(transactionID []byte) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.settled[string(transactionID)]
	if !ok {
		return 0
	}
	return record.total
}

// BreakdownFor() returns a copy of the settled breakdown, nil if unsettled
func (l *FeeLedger) BreakdownFor(transactionID []byte) FeeBreakdown {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.settled[string(transactionID)]
	if !ok {
		return nil
	}
	breakdown := make(FeeBreakdown, len(record.breakdown))
	for source, amount := range record.breakdown {
		breakdown[source] = amount
	}
	return breakdown
}

// CreditLeader() accumulates a committed block's leader fee for its proposer
func (l *FeeLedger) CreditLeader(proposer []byte, amount uint64) lib.ErrorI {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := string(proposer)
	if amount > math.MaxUint64-l.earnings[key] {
		return lib.ErrFeeOverflow(proposer)
	}
	l.earnings[key] += amount
	return nil
}

// EarnedBy() returns the fees credited to a proposer so far
func (l *FeeLedger) EarnedBy(proposer []byte) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.earnings[string(proposer)]
}
