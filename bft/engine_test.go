package bft

import (
	"testing"
	"time"

	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestProposeRequiresLeadership(t *testing.T) {
	// the round robin leader for height one is the validator at index one,
	// so an engine holding any other key may not propose
	net := newTestNet(t, 0, nil)
	_, err := net.engine.Propose(0, nil, nil, 0)
	require.ErrorContains(t, err, "not the leader")
}

func TestTwoHopCommit(t *testing.T) {
	net := newTestNet(t, 1, nil)
	var committed []*lib.Block
	var dispatched []lib.HexBytes
	net.engine.SubscribeCommit(func(block *lib.Block) { committed = append(committed, block) })
	net.engine.SubscribeDispatch(func(id lib.HexBytes) { dispatched = append(dispatched, id) })
	// the engine holds the height one leader's key and proposes directly
	blockA, err := net.engine.Propose(0, []*lib.Command{newCommand("tx-1")}, nil, 10)
	require.NoError(t, err)
	require.Equal(t, []lib.HexBytes{lib.HexBytes("tx-1")}, dispatched)
	require.Equal(t, StatusProposed, net.statusOf(t, blockA.ID))
	// a certificate moves the block to Justified, and with no pledges
	// outstanding it processes inline
	qcA := net.justify(t, blockA)
	require.Equal(t, StatusProcessed, net.statusOf(t, blockA.ID))
	require.Empty(t, committed)
	// the first hop: a certified child
	blockB := net.buildBlock(t, blockA, nil, qcA, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(blockB))
	qcB := net.justify(t, blockB)
	require.Empty(t, committed)
	// the second hop commits the grandparent
	blockC := net.buildBlock(t, blockB, nil, qcB, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(blockC))
	net.justify(t, blockC)
	require.Equal(t, StatusCommitted, net.statusOf(t, blockA.ID))
	require.Equal(t, StatusProcessed, net.statusOf(t, blockB.ID))
	require.Equal(t, StatusProcessed, net.statusOf(t, blockC.ID))
	// the commit event fired exactly once, for the grandparent
	require.Len(t, committed, 1)
	require.Equal(t, blockA.ID, committed[0].ID)
	require.True(t, committed[0].IsCommitted)
	// the persisted record agrees and the leader earned the block fee
	stored, err := net.store.Get(blockA.ID)
	require.NoError(t, err)
	require.True(t, stored.IsCommitted)
	require.Equal(t, uint64(10), net.fees.EarnedBy(blockA.ProposedBy))
}

func TestReceiveProposalValidation(t *testing.T) {
	net := newTestNet(t, 1, nil)
	blockA, err := net.engine.Propose(0, nil, nil, 0)
	require.NoError(t, err)
	qcA := net.justify(t, blockA)
	tests := []struct {
		name   string
		detail string
		block  func() *lib.Block
		error  string
	}{
		{
			name:   "wrong network",
			detail: "blocks from another logical chain are rejected outright",
			block: func() *lib.Block {
				return net.buildBlock(t, blockA, nil, qcA, 0, func(b *lib.Block) { b.NetworkID = 99 })
			},
			error: "different network",
		},
		{
			name:   "wrong leader",
			detail: "the proposer must match the round robin slot for the height",
			block: func() *lib.Block {
				signingKey, err := net.keys[0].SchnorrPrivateKey()
				require.NoError(t, err)
				block := net.buildBlock(t, blockA, nil, qcA, 0, func(b *lib.Block) {
					b.ProposedBy = signingKey.PublicKey().Bytes()
				})
				// resign under the imposter so the signature itself verifies
				_, e := block.SetID()
				require.NoError(t, e)
				require.NoError(t, block.Sign(signingKey))
				return block
			},
			error: "not the leader",
		},
		{
			name:   "unrelated certificate",
			detail: "the embedded certificate must cover the parent or one of its ancestors",
			block: func() *lib.Block {
				stray := net.newTestQC(t, crypto.Hash([]byte("elsewhere")), 1, []int{0, 1, 2})
				return net.buildBlock(t, blockA, nil, stray, 0, nil)
			},
			error: "does not reference the block's parent",
		},
		{
			name:   "ancestor certificate",
			detail: "a certificate over the grandparent is acceptable",
			block: func() *lib.Block {
				ancestorQC := net.newTestQC(t, net.genesis.ID, 0, []int{0, 1, 2})
				return net.buildBlock(t, blockA, nil, ancestorQC, 0, nil)
			},
		},
		{
			name:   "valid child",
			detail: "a well formed proposal from the right leader is accepted",
			block: func() *lib.Block {
				return net.buildBlock(t, blockA, []*lib.Command{newCommand("tx-2")}, qcA, 0, nil)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := net.engine.ReceiveProposal(test.block())
			if test.error != "" {
				require.ErrorContains(t, err, test.error)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestStaleForeignIndexRejected(t *testing.T) {
	net := newTestNet(t, 1, nil)
	blockA := net.buildBlock(t, net.genesis, nil, nil, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{7: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(blockA))
	// the child reports a lower pledge index for shard seven than its parent
	stale := net.buildBlock(t, blockA, nil, nil, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{7: 3}
	})
	require.ErrorContains(t, net.engine.ReceiveProposal(stale), "went backwards")
	// matching the parent's index is fine, equal is not a regression
	level := net.buildBlock(t, blockA, nil, nil, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{7: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(level))
}

func TestJustifyValidation(t *testing.T) {
	net := newTestNet(t, 1, nil)
	blockA, err := net.engine.Propose(0, nil, nil, 0)
	require.NoError(t, err)
	// a certificate for a block the engine never saw
	require.ErrorContains(t, net.engine.Justify(crypto.Hash([]byte("ghost")), nil), "no status tracked")
	// a certificate naming a different block than the one being justified
	mismatched := net.newTestQC(t, crypto.Hash([]byte("other")), 1, []int{0, 1, 2})
	require.ErrorContains(t, net.engine.Justify(blockA.ID, mismatched), "does not reference")
	// a certificate below the quorum threshold
	weak := net.newTestQC(t, blockA.ID, 1, []int{0, 1})
	require.ErrorContains(t, net.engine.Justify(blockA.ID, weak), "below the quorum threshold")
	// a valid certificate lands, and a repeat delivery is a no-op
	qcA := net.newTestQC(t, blockA.ID, 1, []int{0, 1, 2})
	require.NoError(t, net.engine.Justify(blockA.ID, qcA))
	require.NoError(t, net.engine.Justify(blockA.ID, qcA))
	require.Equal(t, StatusProcessed, net.statusOf(t, blockA.ID))
}

func TestDummyChainCommits(t *testing.T) {
	net := newTestNet(t, 1, nil)
	// three missed views in a row are filled by placeholders
	dummies, err := net.engine.FillDummies(0, 3)
	require.NoError(t, err)
	require.Len(t, dummies, 3)
	for i, dummy := range dummies {
		require.True(t, dummy.IsDummy)
		require.Equal(t, uint64(i+1), dummy.Height)
		require.Nil(t, dummy.Signature)
	}
	// dummies still need certificates like any block
	for _, dummy := range dummies {
		net.justify(t, dummy)
	}
	// the two-hop rule commits the first dummy, and no leader fee is credited
	require.Equal(t, StatusCommitted, net.statusOf(t, dummies[0].ID))
	require.Equal(t, StatusProcessed, net.statusOf(t, dummies[1].ID))
	stored, err := net.store.Get(dummies[0].ID)
	require.NoError(t, err)
	require.True(t, stored.IsCommitted)
	require.Zero(t, stored.TotalLeaderFee)
}

func TestOnViewTimeout(t *testing.T) {
	// a generous timeout yields nothing right after bootstrap
	quiet := newTestNet(t, 1, nil)
	dummy, err := quiet.engine.OnViewTimeout(0)
	require.NoError(t, err)
	require.Nil(t, dummy)
	// a one millisecond timeout fires immediately once elapsed
	net := newTestNet(t, 1, func(config *lib.Config) { config.ViewTimeoutMS = 1 })
	time.Sleep(10 * time.Millisecond)
	dummy, err = net.engine.OnViewTimeout(0)
	require.NoError(t, err)
	require.NotNil(t, dummy)
	require.True(t, dummy.IsDummy)
	require.Equal(t, uint64(1), dummy.Height)
}

func TestPledgeSuspensionAndResume(t *testing.T) {
	net := newTestNet(t, 1, func(config *lib.Config) { config.PledgeBackoffBaseMS = 5 })
	blockA := net.buildBlock(t, net.genesis, nil, nil, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{9: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(blockA))
	qcA := net.justify(t, blockA)
	// the foreign pledge has not arrived, so the block stays suspended at Justified
	require.Equal(t, StatusJustified, net.statusOf(t, blockA.ID))
	// the pledge arrival wakes the waiter and processing completes
	net.engine.ObservePledge(9, 5)
	require.Eventually(t, func() bool {
		return net.statusOf(t, blockA.ID) == StatusProcessed
	}, 5*time.Second, 10*time.Millisecond)
	// with the ancestor processed, the usual two hops commit it
	blockB := net.buildBlock(t, blockA, nil, qcA, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(blockB))
	qcB := net.justify(t, blockB)
	blockC := net.buildBlock(t, blockB, nil, qcB, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(blockC))
	net.justify(t, blockC)
	require.Equal(t, StatusCommitted, net.statusOf(t, blockA.ID))
}

func TestCommitDeferredWhileAncestorSuspended(t *testing.T) {
	net := newTestNet(t, 1, func(config *lib.Config) { config.PledgeBackoffBaseMS = 5 })
	blockA := net.buildBlock(t, net.genesis, nil, nil, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{9: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(blockA))
	qcA := net.justify(t, blockA)
	blockB := net.buildBlock(t, blockA, nil, qcA, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{9: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(blockB))
	qcB := net.justify(t, blockB)
	blockC := net.buildBlock(t, blockB, nil, qcB, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{9: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(blockC))
	net.justify(t, blockC)
	// both hops are justified but the candidate is still suspended on its
	// pledge, so the commit is deferred rather than skipped
	require.Equal(t, StatusJustified, net.statusOf(t, blockA.ID))
	net.engine.ObservePledge(9, 5)
	require.Eventually(t, func() bool {
		return net.statusOf(t, blockA.ID) == StatusCommitted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPledgeWaitBound(t *testing.T) {
	net := newTestNet(t, 1, func(config *lib.Config) {
		config.PledgeBackoffBaseMS = 5
		config.PledgeWaitTimeoutMS = 40
	})
	blockA := net.buildBlock(t, net.genesis, nil, nil, 0, func(b *lib.Block) {
		b.ForeignIndexes = map[uint64]uint64{9: 5}
	})
	require.NoError(t, net.engine.ReceiveProposal(blockA))
	net.justify(t, blockA)
	// the pledge never arrives; after the bound elapses the block remains
	// Justified and unprocessed
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, StatusJustified, net.statusOf(t, blockA.ID))
	stored, err := net.store.Get(blockA.ID)
	require.NoError(t, err)
	require.False(t, stored.IsProcessed)
}

func TestForkAbandonment(t *testing.T) {
	net := newTestNet(t, 1, nil)
	blockA, err := net.engine.Propose(0, []*lib.Command{newCommand("tx-1")}, nil, 0)
	require.NoError(t, err)
	qcA := net.justify(t, blockA)
	// a competing proposal at the same height on a different payload
	fork := net.buildBlock(t, net.genesis, []*lib.Command{newCommand("tx-fork")}, nil, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(fork))
	// committing the main branch abandons the competitor
	blockB := net.buildBlock(t, blockA, nil, qcA, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(blockB))
	qcB := net.justify(t, blockB)
	blockC := net.buildBlock(t, blockB, nil, qcB, 0, nil)
	require.NoError(t, net.engine.ReceiveProposal(blockC))
	net.justify(t, blockC)
	require.Equal(t, StatusCommitted, net.statusOf(t, blockA.ID))
	require.Equal(t, StatusAbandoned, net.statusOf(t, fork.ID))
	// a late certificate for the abandoned branch is refused
	qcFork := net.newTestQC(t, fork.ID, 1, []int{0, 1, 2})
	require.ErrorContains(t, net.engine.Justify(fork.ID, qcFork), "abandoned branch")
}

func TestStatusOfUnknown(t *testing.T) {
	net := newTestNet(t, 1, nil)
	_, err := net.engine.StatusOf([]byte("never-seen"))
	require.ErrorContains(t, err, "no status tracked")
}

func TestEpochRegressionRejected(t *testing.T) {
	net := newTestNet(t, 1, nil)
	// the same roster carries over into a later epoch
	later, err := lib.NewCommittee(5, net.committee.Shard, net.committee.Validators)
	require.NoError(t, err)
	net.registry.Register(later)
	parent, err := net.engine.Propose(5, []*lib.Command{newCommand("tx-1")}, nil, 0)
	require.NoError(t, err)
	// a child claiming an earlier epoch than its parent never lands, even though
	// a committee for that epoch is still registered
	child := net.buildBlock(t, parent, nil, nil, 0, nil)
	require.ErrorContains(t, net.engine.ReceiveProposal(child), "went backwards from parent epoch")
	_, err = net.engine.StatusOf(child.ID)
	require.ErrorContains(t, err, "no status tracked")
	// the same epoch as the parent is fine
	sibling := net.buildBlock(t, parent, nil, nil, 0, func(b *lib.Block) { b.Epoch = 5 })
	require.NoError(t, net.engine.ReceiveProposal(sibling))
}

func TestReceiveDummyRejected(t *testing.T) {
	net := newTestNet(t, 1, func(c *lib.Config) { c.ViewTimeoutMS = 1 })
	dummy := &lib.Block{
		NetworkID: lib.MainnetNetworkID,
		Height:    net.genesis.Height + 1,
		Parent:    net.genesis.ID,
		IsDummy:   true,
	}
	_, err := dummy.SetID()
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.ErrorContains(t, net.engine.ReceiveProposal(dummy), "never accepted from peers")
	// the refused dummy left no trace and did not reset the view timer
	_, err = net.engine.StatusOf(dummy.ID)
	require.ErrorContains(t, err, "no status tracked")
	synthesized, err := net.engine.OnViewTimeout(0)
	require.NoError(t, err)
	require.NotNil(t, synthesized)
}
