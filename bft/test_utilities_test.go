package bft

import (
	"testing"

	"github.com/lattice-network/lattice/fsm"
	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/lib/crypto"
	"github.com/lattice-network/lattice/store"
	"github.com/stretchr/testify/require"
)

// testNet bundles one engine with the shared fixtures its tests poke at
type testNet struct {
	engine    *Engine
	committee *lib.Committee
	registry  *lib.CommitteeRegistry
	keys      []*lib.ValidatorKey
	fees      *fsm.FeeLedger
	store     *store.Store
	genesis   *lib.Block
}

// newTestNet stands up an engine over a four validator committee with an in-memory
// store. The engine holds the signing key of the validator at leaderIndex
func newTestNet(t *testing.T, leaderIndex int, mutate func(*lib.Config)) *testNet {
	config := lib.DefaultConfig()
	config.InMemory = true
	config.MaxAncestorWalk = 100
	if mutate != nil {
		mutate(&config)
	}
	var keys []*lib.ValidatorKey
	var validators []*lib.Validator
	for i := 0; i < 4; i++ {
		key, err := lib.NewValidatorKey()
		require.NoError(t, err)
		validator, err := key.Validator(1)
		require.NoError(t, err)
		keys = append(keys, key)
		validators = append(validators, validator)
	}
	committee, err := lib.NewCommittee(0, config.ShardID, validators)
	require.NoError(t, err)
	registry := lib.NewCommitteeRegistry(config.CommitteeHistory)
	registry.Register(committee)
	st, err := store.New(config, lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	signingKey, err := keys[leaderIndex].SchnorrPrivateKey()
	require.NoError(t, err)
	fees := fsm.NewFeeLedger()
	engine := New(config, st, fees, registry, RoundRobin{}, NewPledgeTracker(), signingKey, nil, lib.NewNullLogger())
	genesisState := &lib.GenesisState{NetworkID: config.NetworkID, Shard: config.ShardID}
	genesis, err := genesisState.NewGenesisBlock()
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap(genesis))
	return &testNet{
		engine:    engine,
		committee: committee,
		registry:  registry,
		keys:      keys,
		fees:      fees,
		store:     st,
		genesis:   genesis,
	}
}

// buildBlock constructs a proposal extending the parent, signed by the round robin
// leader for its height. The mutate hook runs before the id and signature are set
func (n *testNet) buildBlock(t *testing.T, parent *lib.Block, commands []*lib.Command,
	justify *lib.QuorumCertificate, fee uint64, mutate func(*lib.Block)) *lib.Block {
	height := parent.Height + 1
	signingKey, err := n.keys[int(height)%len(n.keys)].SchnorrPrivateKey()
	require.NoError(t, err)
	merkleRoot, err := lib.MerkleRootOfCommands(commands)
	require.NoError(t, err)
	block := &lib.Block{
		NetworkID:      lib.MainnetNetworkID,
		Height:         height,
		Parent:         parent.ID,
		Justify:        justify,
		ProposedBy:     signingKey.PublicKey().Bytes(),
		TotalLeaderFee: fee,
		MerkleRoot:     merkleRoot,
		Commands:       commands,
	}
	if mutate != nil {
		mutate(block)
	}
	_, err = block.SetID()
	require.NoError(t, err)
	require.NoError(t, block.Sign(signingKey))
	return block
}

// newTestQC forms a quorum certificate for a block signed by the given subset of
// the committee
func (n *testNet) newTestQC(t *testing.T, blockID []byte, height uint64, signers []int) *lib.QuorumCertificate {
	qc := &lib.QuorumCertificate{
		BlockID: blockID,
		Height:  height,
		Epoch:   n.committee.Epoch,
		Shard:   n.committee.Shard,
	}
	signBytes, err := qc.SignBytes()
	require.NoError(t, err)
	multiKey, err := n.committee.MultiKey(nil)
	require.NoError(t, err)
	for _, i := range signers {
		private, err := n.keys[i].BLSPrivateKey()
		require.NoError(t, err)
		require.NoError(t, multiKey.AddSigner(private.Sign(signBytes), i))
	}
	aggregate, e := multiKey.AggregateSignatures()
	require.NoError(t, e)
	qc.Bitmap = multiKey.Bitmap()
	qc.Signature = aggregate
	return qc
}

// justify shortcuts certificate formation and installation for a block
func (n *testNet) justify(t *testing.T, block *lib.Block) *lib.QuorumCertificate {
	qc := n.newTestQC(t, block.ID, block.Height, []int{0, 1, 2})
	require.NoError(t, n.engine.Justify(block.ID, qc))
	return qc
}

// statusOf reads the engine's lifecycle state, failing the test on unknown blocks
func (n *testNet) statusOf(t *testing.T, blockID []byte) BlockStatus {
	status, err := n.engine.StatusOf(blockID)
	require.NoError(t, err)
	return status
}

func newCommand(id string) *lib.Command {
	return &lib.Command{TransactionID: []byte(id), Payload: crypto.Hash([]byte(id))}
}
