package bft

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-network/lattice/fsm"
	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/lib/crypto"
	"github.com/lattice-network/lattice/store"
)

/*
	The consensus engine is the per-shard state machine: propose, justify, process,
	commit. One engine instance owns one shard and serializes every mutation behind a
	single mutex, the single-writer discipline; reads of committed history go straight
	to the store. The commit rule is the two-hop chain: a block commits once its child
	and grandchild are both justified, and commits always apply ancestor first with no
	gaps back to the previously committed block.
*/

// BlockStatus is the engine's lifecycle state for one block
type BlockStatus uint32

const (
	StatusProposed  BlockStatus = iota // inserted, awaiting a quorum certificate
	StatusJustified                    // certified by a quorum certificate
	StatusProcessed                    // commands applied to local state
	StatusCommitted                    // the commit rule was satisfied
	StatusAbandoned                    // superseded by a committed competing branch
)

// String() returns the human readable name of the status
func (s BlockStatus) String() string {
	switch s {
	case StatusProposed:
		return "Proposed"
	case StatusJustified:
		return "Justified"
	case StatusProcessed:
		return "Processed"
	case StatusCommitted:
		return "Committed"
	case StatusAbandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

// CommitHandler is invoked for every committed block, in commit order
type CommitHandler func(*lib.Block)

// DispatchHandler is invoked for every transaction whose command enters a proposal
type DispatchHandler func(transactionID lib.HexBytes)

// Engine drives block agreement for a single shard
type Engine struct {
	mu      sync.Mutex
	log     lib.LoggerI
	config  lib.Config
	metrics *lib.Metrics

	store      *store.Store
	fees       *fsm.FeeLedger
	registry   *lib.CommitteeRegistry
	leader     LeaderStrategy
	pledges    *PledgeTracker
	signingKey *crypto.SchnorrPrivateKey

	status           map[string]BlockStatus
	waitCancels      map[string]context.CancelFunc // (block id | shard) -> pledge wait cancel
	onCommit         []CommitHandler
	onDispatch       []DispatchHandler
	tipID            lib.HexBytes // highest inserted block
	tipHeight        uint64
	highestJustified lib.HexBytes // highest justified block, drives deferred commits
	lastActivity     time.Time    // last accepted proposal, drives the view timeout
}

// New() creates an engine for the shard named in the configuration
func New(config lib.Config, st *store.Store, fees *fsm.FeeLedger, registry *lib.CommitteeRegistry,
	leader LeaderStrategy, pledges *PledgeTracker, signingKey *crypto.SchnorrPrivateKey,
	metrics *lib.Metrics, log lib.LoggerI) *Engine {
	return &Engine{
		log:          log,
		config:       config,
		metrics:      metrics,
		store:        st,
		fees:         fees,
		registry:     registry,
		leader:       leader,
		pledges:      pledges,
		signingKey:   signingKey,
		status:       make(map[string]BlockStatus),
		waitCancels:  make(map[string]context.CancelFunc),
		lastActivity: time.Now(),
	}
}

// SubscribeCommit() registers a handler for committed blocks
func (e *Engine) SubscribeCommit(handler CommitHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCommit = append(e.onCommit, handler)
}

// SubscribeDispatch() registers a handler for dispatched transactions
func (e *Engine) SubscribeDispatch(handler DispatchHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDispatch = append(e.onDispatch, handler)
}

// Bootstrap() seeds the engine with the genesis block, committed at startup
func (e *Engine) Bootstrap(genesis *lib.Block) lib.ErrorI {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Bootstrap(genesis); err != nil {
		return err
	}
	e.status[string(genesis.ID)] = StatusCommitted
	e.advanceTipLocked(genesis)
	e.log.Infof("Bootstrapped shard %d from genesis %s", genesis.Shard, lib.BytesToTruncatedString(genesis.ID))
	return nil
}

// Propose() builds, signs, and locally accepts a new block extending the tip. Only
// the designated leader for the next height may call this successfully
func (e *Engine) Propose(epoch uint64, commands []*lib.Command, justify *lib.QuorumCertificate, totalLeaderFee uint64) (*lib.Block, lib.ErrorI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	parent, err := e.store.Get(e.tipID)
	if err != nil {
		return nil, err
	}
	height := parent.Height + 1
	committee, err := e.registry.Get(epoch, e.config.ShardID)
	if err != nil {
		return nil, err
	}
	myKey := e.signingKey.PublicKey().Bytes()
	if expected := e.leader.LeaderAt(committee, height); !bytes.Equal(expected.SigningKey, myKey) {
		return nil, lib.ErrNotLeader(myKey)
	}
	merkleRoot, err := lib.MerkleRootOfCommands(commands)
	if err != nil {
		return nil, err
	}
	block := &lib.Block{
		NetworkID:      e.config.NetworkID,
		Shard:          e.config.ShardID,
		Height:         height,
		Epoch:          epoch,
		Parent:         parent.ID,
		Justify:        justify,
		ProposedBy:     myKey,
		TotalLeaderFee: totalLeaderFee,
		MerkleRoot:     merkleRoot,
		Commands:       commands,
		ForeignIndexes: e.pledges.Snapshot(),
	}
	if _, err = block.SetID(); err != nil {
		return nil, err
	}
	if err = block.Sign(e.signingKey); err != nil {
		return nil, err
	}
	if err = e.acceptLocked(block); err != nil {
		return nil, err
	}
	for _, transactionID := range block.TransactionIDs() {
		for _, handler := range e.onDispatch {
			handler(transactionID)
		}
	}
	e.log.Infof("Proposed block %s at height %d with %d commands",
		lib.BytesToTruncatedString(block.ID), height, len(commands))
	return block, nil
}

// ReceiveProposal() validates and locally accepts a block proposed by another node
func (e *Engine) ReceiveProposal(block *lib.Block) lib.ErrorI {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := block.Check(e.config.NetworkID); err != nil {
		return err
	}
	// dummies carry no signature and come only from the local view timeout path,
	// so a peer-supplied one must never advance the tip or reset the view timer
	if block.IsDummy {
		return lib.ErrForeignDummy()
	}
	if err := block.VerifySignature(); err != nil {
		return err
	}
	committee, err := e.registry.Get(block.Epoch, block.Shard)
	if err != nil {
		return err
	}
	if expected := e.leader.LeaderAt(committee, block.Height); !bytes.Equal(expected.SigningKey, block.ProposedBy) {
		return lib.ErrNotLeader(block.ProposedBy)
	}
	// the embedded certificate must certify the parent or one of its ancestors
	if block.Justify != nil {
		if err = e.checkJustifyLocked(block); err != nil {
			return err
		}
	}
	if err := e.checkForeignIndexesLocked(block); err != nil {
		return err
	}
	return e.acceptLocked(block)
}

// Justify() installs a quorum certificate for a block, moving it from Proposed to
// Justified and driving processing and the commit rule forward
func (e *Engine) Justify(blockID []byte, qc *lib.QuorumCertificate) lib.ErrorI {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, ok := e.status[string(blockID)]
	if !ok {
		return lib.ErrUnknownBlockStatus(blockID)
	}
	switch current {
	case StatusAbandoned:
		return lib.ErrAbandonedBranch(blockID)
	case StatusJustified, StatusProcessed, StatusCommitted:
		// certificates can arrive more than once, a repeat changes nothing
		return nil
	}
	if qc == nil || !bytes.Equal(qc.BlockID, blockID) {
		return lib.ErrQCMismatch()
	}
	committee, err := e.registry.Get(qc.Epoch, qc.Shard)
	if err != nil {
		return err
	}
	if err = qc.Check(committee); err != nil {
		return err
	}
	block, err := e.store.Get(blockID)
	if err != nil {
		return err
	}
	e.status[string(blockID)] = StatusJustified
	if block.Height > e.justifiedHeightLocked() {
		e.highestJustified = block.ID
	}
	e.log.Debugf("Block %s justified at height %d", lib.BytesToTruncatedString(blockID), block.Height)
	e.scheduleProcessLocked(block)
	return e.maybeCommitLocked()
}

// OnViewTimeout() fills the next height with a locally synthesized dummy block when
// no valid proposal arrived within the view timeout. The dummy carries no commands,
// no fee, and no signature, and still needs justification like any block
func (e *Engine) OnViewTimeout(epoch uint64) (*lib.Block, lib.ErrorI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.lastActivity) < time.Duration(e.config.ViewTimeoutMS)*time.Millisecond {
		return nil, nil
	}
	return e.synthesizeDummyLocked(epoch)
}

// FillDummies() synthesizes dummy blocks until the tip reaches the target height,
// preserving height monotonicity across a run of missed views
func (e *Engine) FillDummies(epoch, toHeight uint64) ([]*lib.Block, lib.ErrorI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var dummies []*lib.Block
	for e.tipHeight < toHeight {
		dummy, err := e.synthesizeDummyLocked(epoch)
		if err != nil {
			return dummies, err
		}
		dummies = append(dummies, dummy)
	}
	return dummies, nil
}

// ObservePledge() records a cross-shard pledge arrival, waking suspended blocks
func (e *Engine) ObservePledge(shard, index uint64) {
	e.pledges.Observe(shard, index)
}

// StatusOf() returns the engine's lifecycle state for a block
func (e *Engine) StatusOf(blockID []byte) (BlockStatus, lib.ErrorI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.status[string(blockID)]
	if !ok {
		return 0, lib.ErrUnknownBlockStatus(blockID)
	}
	return status, nil
}

// acceptLocked() inserts a validated block, stamps its persistence time, and starts
// tracking it as Proposed; the caller must hold the engine lock
func (e *Engine) acceptLocked(block *lib.Block) lib.ErrorI {
	if err := e.store.Insert(block); err != nil {
		return err
	}
	if err := e.store.SetStoredAt(block.ID, uint64(time.Now().UnixMicro())); err != nil {
		return err
	}
	e.status[string(block.ID)] = StatusProposed
	e.advanceTipLocked(block)
	e.lastActivity = time.Now()
	return nil
}

// checkJustifyLocked() validates a proposal's embedded certificate against its
// committee and its chain position; the caller must hold the engine lock
func (e *Engine) checkJustifyLocked(block *lib.Block) lib.ErrorI {
	qc := block.Justify
	committee, err := e.registry.Get(qc.Epoch, qc.Shard)
	if err != nil {
		return err
	}
	if err = qc.Check(committee); err != nil {
		return err
	}
	if bytes.Equal(qc.BlockID, block.Parent) {
		return nil
	}
	isAncestor, err := e.store.IsAncestor(qc.BlockID, block.Parent)
	if err != nil {
		return err
	}
	if !isAncestor {
		return lib.ErrQCMismatch()
	}
	return nil
}

// checkForeignIndexesLocked() enforces per-shard monotonicity of the block's pledge
// indexes against its parent; the caller must hold the engine lock
func (e *Engine) checkForeignIndexesLocked(block *lib.Block) lib.ErrorI {
	if block.Height == 0 || len(block.ForeignIndexes) == 0 {
		return nil
	}
	parent, err := e.store.Get(block.Parent)
	if err != nil {
		return nil // orphan handling happens at insert
	}
	for shard, index := range block.ForeignIndexes {
		if have := parent.ForeignIndexes[shard]; index < have {
			return lib.ErrStaleForeignIndex(shard, have, index)
		}
	}
	return nil
}

// synthesizeDummyLocked() appends one placeholder block above the current tip; the
// caller must hold the engine lock
func (e *Engine) synthesizeDummyLocked(epoch uint64) (*lib.Block, lib.ErrorI) {
	parent, err := e.store.Get(e.tipID)
	if err != nil {
		return nil, err
	}
	dummy := &lib.Block{
		NetworkID: e.config.NetworkID,
		Shard:     e.config.ShardID,
		Height:    parent.Height + 1,
		Epoch:     epoch,
		Parent:    parent.ID,
		Justify:   parent.Justify,
		IsDummy:   true,
	}
	if _, err = dummy.SetID(); err != nil {
		return nil, err
	}
	if err = e.acceptLocked(dummy); err != nil {
		return nil, err
	}
	e.log.Warnf("View timeout: synthesized dummy block %s at height %d",
		lib.BytesToTruncatedString(dummy.ID), dummy.Height)
	return dummy, nil
}

// scheduleProcessLocked() moves a justified block toward Processed. When every
// recorded pledge is already observed the transition happens inline; otherwise a
// per-block waiter suspends without blocking the rest of the shard
func (e *Engine) scheduleProcessLocked(block *lib.Block) {
	pending := false
	for shard, wanted := range block.ForeignIndexes {
		if e.pledges.Observed(shard) < wanted {
			pending = true
			break
		}
	}
	if !pending {
		if err := e.markProcessedLocked(block.ID); err != nil {
			e.log.Errorf("Processing block %s failed: %s", lib.BytesToTruncatedString(block.ID), err.Error())
		}
		return
	}
	go e.awaitPledgesAndProcess(block)
}

// awaitPledgesAndProcess() is the suspended path: wait out each missing pledge with
// bounded backoff, then finish processing and retry the commit rule
func (e *Engine) awaitPledgesAndProcess(block *lib.Block) {
	e.metrics.PledgeWaitStarted()
	defer e.metrics.PledgeWaitEnded()
	base := time.Duration(e.config.PledgeBackoffBaseMS) * time.Millisecond
	bound := time.Duration(e.config.PledgeWaitTimeoutMS) * time.Millisecond
	for shard, wanted := range block.ForeignIndexes {
		ctx, cancel := context.WithCancel(context.Background())
		e.registerWaitCancel(block.ID, shard, cancel)
		err := e.pledges.Await(ctx, shard, wanted, base, bound)
		e.unregisterWaitCancel(block.ID, shard)
		cancel()
		if err != nil {
			e.log.Warnf("Block %s stays unprocessed: %s", lib.BytesToTruncatedString(block.ID), err.Error())
			return
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status[string(block.ID)] == StatusAbandoned {
		return
	}
	if err := e.markProcessedLocked(block.ID); err != nil {
		e.log.Errorf("Processing block %s failed: %s", lib.BytesToTruncatedString(block.ID), err.Error())
		return
	}
	if err := e.maybeCommitLocked(); err != nil {
		e.log.Errorf("Commit attempt failed: %s", err.Error())
	}
}

// markProcessedLocked() applies the Justified to Processed transition; the caller
// must hold the engine lock
func (e *Engine) markProcessedLocked(blockID []byte) lib.ErrorI {
	if err := e.store.MarkProcessed(blockID); err != nil {
		return err
	}
	e.status[string(blockID)] = StatusProcessed
	return nil
}

// maybeCommitLocked() applies the two-hop commit rule from the highest justified
// block: its grandparent, and every uncommitted ancestor below it, commit in
// ancestor-to-descendant order. Commits are deferred, never skipped, while an
// ancestor is still suspended on a pledge; the caller must hold the engine lock
func (e *Engine) maybeCommitLocked() lib.ErrorI {
	if len(e.highestJustified) == 0 {
		return nil
	}
	child, err := e.store.Get(e.highestJustified)
	if err != nil {
		return err
	}
	if child.Height < 2 {
		return nil
	}
	parent, err := e.store.Get(child.Parent)
	if err != nil {
		return err
	}
	// both hops must be justified
	if s := e.status[string(parent.ID)]; s != StatusJustified && s != StatusProcessed && s != StatusCommitted {
		return nil
	}
	candidate, err := e.store.Get(parent.Parent)
	if err != nil {
		return err
	}
	if candidate.IsCommitted {
		return nil
	}
	// gather the uncommitted chain from the candidate back to committed history
	chain, err := e.uncommittedChainLocked(candidate)
	if err != nil {
		return err
	}
	for _, block := range chain {
		if !block.IsProcessed {
			// a suspended ancestor defers the whole commit, order is never broken
			return nil
		}
	}
	for _, block := range chain {
		if err = e.commitOneLocked(block); err != nil {
			return err
		}
	}
	return e.abandonForksLocked(chain[len(chain)-1])
}

// uncommittedChainLocked() walks from the candidate toward genesis collecting every
// uncommitted ancestor, returned ancestor first; the caller must hold the engine lock
func (e *Engine) uncommittedChainLocked(candidate *lib.Block) ([]*lib.Block, lib.ErrorI) {
	var chain []*lib.Block
	current := candidate
	for walked := uint64(0); ; walked++ {
		if walked > e.config.MaxAncestorWalk {
			return nil, lib.ErrChainTooDeep(walked)
		}
		chain = append([]*lib.Block{current}, chain...)
		if current.Height == 0 {
			break
		}
		parent, err := e.store.Get(current.Parent)
		if err != nil {
			return nil, err
		}
		if parent.IsCommitted {
			break
		}
		current = parent
	}
	return chain, nil
}

// commitOneLocked() finalizes one block: the store flag, the leader fee credit, the
// telemetry, and the commit event fan-out; the caller must hold the engine lock
func (e *Engine) commitOneLocked(block *lib.Block) lib.ErrorI {
	if err := e.store.MarkCommitted(block.ID); err != nil {
		return err
	}
	e.status[string(block.ID)] = StatusCommitted
	if !block.IsDummy && block.TotalLeaderFee > 0 {
		if err := e.fees.CreditLeader(block.ProposedBy, block.TotalLeaderFee); err != nil {
			return err
		}
	}
	e.metrics.UpdateCommit(block.Height, block.IsDummy, block.TotalLeaderFee)
	committed, err := e.store.Get(block.ID)
	if err != nil {
		return err
	}
	for _, handler := range e.onCommit {
		handler(committed)
	}
	e.log.Infof("Committed block %s at height %d", lib.BytesToTruncatedString(block.ID), block.Height)
	return nil
}

// abandonForksLocked() terminates competing branches at or below the newly committed
// height and cancels their pledge waits; the caller must hold the engine lock
func (e *Engine) abandonForksLocked(committedTip *lib.Block) lib.ErrorI {
	for id, status := range e.status {
		if status != StatusProposed && status != StatusJustified && status != StatusProcessed {
			continue
		}
		block, err := e.store.Get([]byte(id))
		if err != nil {
			continue
		}
		if block.Height > committedTip.Height {
			continue
		}
		isAncestor, err := e.store.IsAncestor(block.ID, committedTip.ID)
		if err != nil || isAncestor {
			continue
		}
		e.status[id] = StatusAbandoned
		e.cancelWaitsLocked(block.ID)
		e.log.Warnf("Abandoned block %s on a competing branch at height %d",
			lib.BytesToTruncatedString(block.ID), block.Height)
	}
	return nil
}

// advanceTipLocked() tracks the highest inserted block; the caller must hold the engine lock
func (e *Engine) advanceTipLocked(block *lib.Block) {
	if len(e.tipID) == 0 || block.Height > e.tipHeight {
		e.tipID, e.tipHeight = block.ID, block.Height
	}
}

// justifiedHeightLocked() returns the height of the highest justified block, zero if
// none; the caller must hold the engine lock
func (e *Engine) justifiedHeightLocked() uint64 {
	if len(e.highestJustified) == 0 {
		return 0
	}
	block, err := e.store.Get(e.highestJustified)
	if err != nil {
		return 0
	}
	return block.Height
}

// registerWaitCancel() tracks the cancel handle of one (block, shard) pledge wait
func (e *Engine) registerWaitCancel(blockID []byte, shard uint64, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitCancels[waitKey(blockID, shard)] = cancel
}

// unregisterWaitCancel() drops the cancel handle once the wait resolved
func (e *Engine) unregisterWaitCancel(blockID []byte, shard uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waitCancels, waitKey(blockID, shard))
}

// cancelWaitsLocked() cancels every pledge wait belonging to a block; the caller
// must hold the engine lock
func (e *Engine) cancelWaitsLocked(blockID []byte) {
	prefix := string(blockID) + "|"
	for key, cancel := range e.waitCancels {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			cancel()
			delete(e.waitCancels, key)
		}
	}
}

// waitKey() builds the (block, shard) key of a pledge wait
func waitKey(blockID []byte, shard uint64) string {
	return fmt.Sprintf("%s|%d", blockID, shard)
}
