package lib

import (
	"bytes"
	"sync"

	"github.com/drand/kyber"
	"github.com/lattice-network/lattice/lib/crypto"
)

/*
	Committee membership is keyed by epoch: validators joining or leaving only take
	effect on an epoch transition, so every certificate names the epoch it was formed
	under and is checked against that epoch's roster. The registry keeps a bounded
	history window of past committees so certificates from recent epochs remain
	verifiable after a transition.
*/

// Validator is one committee member. The vote key is an aggregable BLS key used in
// quorum certificates; the signing key is the edwards25519 key behind leader block
// signatures
type Validator struct {
	PublicKey   HexBytes `json:"publicKey"`   // BLS vote key
	SigningKey  HexBytes `json:"signingKey"`  // leader block signature key
	VotingPower uint64   `json:"votingPower"` // relative weight in quorum tallies
}

// Committee is the ordered validator roster for one epoch and shard. Order is part of
// the roster's identity: certificate bitmaps index into it
type Committee struct {
	Epoch      uint64       `json:"epoch"`
	Shard      uint64       `json:"shard"`
	Validators []*Validator `json:"validators"`

	points     []kyber.Point // parsed vote keys, committee order
	totalPower uint64
}

// NewCommittee() builds a committee from an ordered roster, parsing and caching the
// vote keys up front so certificate checks never re-parse
func NewCommittee(epoch, shard uint64, validators []*Validator) (*Committee, ErrorI) {
	if len(validators) == 0 {
		return nil, ErrEmptyCommittee()
	}
	c := &Committee{Epoch: epoch, Shard: shard, Validators: validators}
	for _, v := range validators {
		point, err := crypto.NewBLSPointFromBytes(v.PublicKey)
		if err != nil {
			return nil, ErrPubKeyFromBytes(err)
		}
		c.points = append(c.points, point)
		c.totalPower += v.VotingPower
	}
	return c, nil
}

// Size() returns the number of members in the roster
func (c *Committee) Size() int { return len(c.Validators) }

// TotalPower() returns the combined voting power of the roster
func (c *Committee) TotalPower() uint64 { return c.totalPower }

// QuorumThreshold() returns the minimum signed power that satisfies the supermajority
// rule: strictly more than two thirds of the total
func (c *Committee) QuorumThreshold() uint64 { return (c.totalPower*2)/3 + 1 }

// MultiKey() assembles the aggregate verification key for the roster under a signer
// bitmap. A nil bitmap yields an empty mask for vote collection
func (c *Committee) MultiKey(bitmap []byte) (crypto.MultiPublicKeyI, ErrorI) {
	key, err := crypto.NewMultiBLSFromPoints(c.points, bitmap)
	if err != nil {
		return nil, ErrNewMultiPubKey(err)
	}
	return key, nil
}

// MemberIndex() locates a validator by vote key, returning its bitmap position
func (c *Committee) MemberIndex(publicKey []byte) (int, bool) {
	for i, v := range c.Validators {
		if bytes.Equal(v.PublicKey, publicKey) {
			return i, true
		}
	}
	return 0, false
}

// MemberBySigningKey() locates a validator by its leader signing key
func (c *Committee) MemberBySigningKey(signingKey []byte) (*Validator, bool) {
	for _, v := range c.Validators {
		if bytes.Equal(v.SigningKey, signingKey) {
			return v, true
		}
	}
	return nil, false
}

// committeeKey uniquely identifies a roster version
type committeeKey struct {
	epoch uint64
	shard uint64
}

// CommitteeRegistry is the versioned committee lookup: populated on epoch transition,
// retained for a bounded history window, discarded beyond it
type CommitteeRegistry struct {
	mu           sync.RWMutex
	historyLimit uint64 // epochs of history kept per shard, zero keeps everything
	committees   map[committeeKey]*Committee
	latestEpoch  map[uint64]uint64 // highest registered epoch per shard
}

// NewCommitteeRegistry() creates an empty registry with the given history window
func NewCommitteeRegistry(historyLimit uint64) *CommitteeRegistry {
	return &CommitteeRegistry{
		historyLimit: historyLimit,
		committees:   make(map[committeeKey]*Committee),
		latestEpoch:  make(map[uint64]uint64),
	}
}

// Register() installs a committee for its epoch and shard, pruning rosters that fell
// out of the history window
func (r *CommitteeRegistry) Register(c *Committee) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committees[committeeKey{epoch: c.Epoch, shard: c.Shard}] = c
	if c.Epoch > r.latestEpoch[c.Shard] {
		r.latestEpoch[c.Shard] = c.Epoch
	}
	if r.historyLimit == 0 {
		return
	}
	latest := r.latestEpoch[c.Shard]
	for key := range r.committees {
		if key.shard == c.Shard && latest > r.historyLimit && key.epoch < latest-r.historyLimit {
			delete(r.committees, key)
		}
	}
}

// Get() looks up the committee for an epoch and shard
func (r *CommitteeRegistry) Get(epoch, shard uint64) (*Committee, ErrorI) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.committees[committeeKey{epoch: epoch, shard: shard}]
	if !ok {
		return nil, ErrUnknownCommittee(epoch, shard)
	}
	return c, nil
}
