package bft

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lattice-network/lattice/lib"
)

/*
	Cross-shard pledges arrive as (shard, index) observations with monotonically
	increasing indexes per shard. A block recording a foreign index may only be
	processed once the local observation for that shard has caught up, so the tracker
	offers a bounded, cancellable wait: exponential backoff polling until the pledge
	arrives, the bound elapses, or the waiting block is abandoned.
*/

// errPledgePending marks one unsatisfied poll inside the backoff loop
var errPledgePending = lib.NewError(lib.CodeMissingForeignPledge, lib.ConsensusModule, "pledge not yet observed")

// PledgeTracker records the highest pledge index observed per foreign shard
type PledgeTracker struct {
	mu       sync.RWMutex
	observed map[uint64]uint64
}

// NewPledgeTracker() creates an empty tracker
func NewPledgeTracker() *PledgeTracker {
	return &PledgeTracker{observed: make(map[uint64]uint64)}
}

// Observe() records a pledge arrival. Indexes only move forward; a redelivered or
// out of order arrival below the current index is a harmless no-op
func (t *PledgeTracker) Observe(shard, index uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index > t.observed[shard] {
		t.observed[shard] = index
	}
}

// Observed() returns the highest pledge index seen for a shard, zero if none
func (t *PledgeTracker) Observed(shard uint64) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.observed[shard]
}

// Snapshot() copies the current observation map, used when proposing a block
func (t *PledgeTracker) Snapshot() map[uint64]uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.observed) == 0 {
		return nil
	}
	snapshot := make(map[uint64]uint64, len(t.observed))
	for shard, index := range t.observed {
		snapshot[shard] = index
	}
	return snapshot
}

// Await() suspends until the shard's observation reaches the wanted index, polling
// with exponential backoff. The wait ends early when the context is cancelled and
// fails once the bound elapses without the pledge arriving
func (t *PledgeTracker) Await(ctx context.Context, shard, wanted uint64, base, bound time.Duration) lib.ErrorI {
	if t.Observed(shard) >= wanted {
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = base
	policy.MaxElapsedTime = bound
	err := backoff.Retry(func() error {
		if t.Observed(shard) >= wanted {
			return nil
		}
		return errPledgePending
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return lib.ErrMissingForeignPledge(shard, wanted, t.Observed(shard))
	}
	return nil
}
