package lib

import (
	"bytes"

	"github.com/alecthomas/units"
	"github.com/lattice-network/lattice/lib/crypto"
)

const (
	// MaxBlockSize caps the canonical encoding of a single block
	MaxBlockSize = int(1 * units.MiB)
)

/*
	A block is a node in the shard's chain of committed commands. Once a leader signs
	a block, the only fields that may still change are the local lifecycle markers:
	IsProcessed, IsCommitted, and StoredAt. Everything else is covered by the block's
	content-derived id, so any tampering changes the id and detaches the block from
	its certificates.
*/

// Block is the unit of agreement: an ordered command batch tied to its parent by a
// quorum certificate
type Block struct {
	ID             HexBytes           `json:"id"`                       // content-derived identifier, hash of the canonical encoding
	NetworkID      uint64             `json:"networkID"`                // logical chain identifier
	Shard          uint64             `json:"shard"`                    // the shard this block belongs to
	Height         uint64             `json:"height"`                   // parent height plus one
	Epoch          uint64             `json:"epoch"`                    // committee membership period
	Parent         HexBytes           `json:"parent"`                   // id of the predecessor block
	Justify        *QuorumCertificate `json:"justify"`                  // certificate for the parent or an ancestor
	ProposedBy     HexBytes           `json:"proposedBy"`               // verification key of the proposing leader
	TotalLeaderFee uint64             `json:"totalLeaderFee"`           // leader fee settled on commit
	MerkleRoot     HexBytes           `json:"merkleRoot"`               // commitment to the ordered commands
	Commands       []*Command         `json:"commands,omitempty"`       // ordered opaque instructions
	IsDummy        bool               `json:"isDummy"`                  // placeholder for a missed height, no commands or fee
	IsProcessed    bool               `json:"isProcessed"`              // commands were applied to local state
	IsCommitted    bool               `json:"isCommitted"`              // the commit rule was satisfied
	ForeignIndexes map[uint64]uint64  `json:"foreignIndexes,omitempty"` // highest cross shard pledge index incorporated, per shard
	StoredAt       uint64             `json:"storedAt,omitempty"`       // unix micros at local persistence time, zero until stored
	Signature      *BlockSignature    `json:"signature,omitempty"`      // leader signature, absent on dummy and genesis blocks
}

// BlockSignature is the leader's attestation over the block's canonical encoding
type BlockSignature struct {
	PublicNonce HexBytes `json:"publicNonce"`
	Signature   HexBytes `json:"signature"`
}

// Command is an opaque ordered instruction keyed by the transaction that produced it
type Command struct {
	TransactionID HexBytes `json:"transactionID"`
	Payload       HexBytes `json:"payload,omitempty"`
}

// Hash() computes the content-derived identifier: the hash of the canonical encoding
// with the id, lifecycle markers, and signature cleared
func (b *Block) Hash() (HexBytes, ErrorI) {
	bz, err := b.SignBytes()
	if err != nil {
		return nil, err
	}
	return crypto.Hash(bz), nil
}

// SetID() computes and assigns the content-derived identifier, returning it
func (b *Block) SetID() (HexBytes, ErrorI) {
	id, err := b.Hash()
	if err != nil {
		return nil, err
	}
	b.ID = id
	return b.ID, nil
}

// SignBytes() returns the canonical signable encoding of the block. The id, the
// lifecycle markers, and the signature itself are excluded so that local mutation
// never invalidates the leader's attestation
func (b *Block) SignBytes() ([]byte, ErrorI) {
	// temporarily clear the excluded fields, restoring them on exit
	id, processed, committed, storedAt, signature := b.ID, b.IsProcessed, b.IsCommitted, b.StoredAt, b.Signature
	b.ID, b.IsProcessed, b.IsCommitted, b.StoredAt, b.Signature = nil, false, false, 0, nil
	defer func() {
		b.ID, b.IsProcessed, b.IsCommitted, b.StoredAt, b.Signature = id, processed, committed, storedAt, signature
	}()
	return Marshal(b)
}

// Sign() attaches the leader's signature over the block's signable encoding
func (b *Block) Sign(key *crypto.SchnorrPrivateKey) ErrorI {
	bz, err := b.SignBytes()
	if err != nil {
		return err
	}
	sig := key.Sign(bz)
	b.Signature = &BlockSignature{
		PublicNonce: sig[:crypto.SchnorrPubKeySize],
		Signature:   sig[crypto.SchnorrPubKeySize:],
	}
	return nil
}

// VerifySignature() checks the leader signature against the proposer's verification key.
// Dummy blocks are synthesized locally and carry no signature
func (b *Block) VerifySignature() ErrorI {
	if b.IsDummy {
		return nil
	}
	if b.Signature == nil || len(b.Signature.PublicNonce) == 0 || len(b.Signature.Signature) == 0 {
		return ErrUnsignedBlock()
	}
	public, e := crypto.NewSchnorrPublicKeyFromBytes(b.ProposedBy)
	if e != nil {
		return ErrInvalidBlockSignature()
	}
	bz, err := b.SignBytes()
	if err != nil {
		return err
	}
	sig := append(append([]byte{}, b.Signature.PublicNonce...), b.Signature.Signature...)
	if !public.VerifyBytes(bz, sig) {
		return ErrInvalidBlockSignature()
	}
	return nil
}

// Check() performs stateless sanity validation of the block structure
func (b *Block) Check(networkID uint64) ErrorI {
	if b == nil {
		return ErrNilBlock()
	}
	if len(b.ID) == 0 {
		return ErrNilBlockID()
	}
	if b.NetworkID != networkID {
		return ErrWrongNetwork()
	}
	if b.Height > 0 && len(b.Parent) == 0 {
		return ErrNilBlockParent()
	}
	if b.IsDummy {
		// a placeholder fills a height only, it carries no payload and earns nothing
		if len(b.Commands) != 0 || b.TotalLeaderFee != 0 {
			return ErrDummyWithPayload()
		}
	} else {
		if len(b.ProposedBy) == 0 {
			return ErrNilProposer()
		}
		root, err := MerkleRootOfCommands(b.Commands)
		if err != nil {
			return err
		}
		if !bytes.Equal(root, b.MerkleRoot) {
			return ErrNilMerkleRoot()
		}
	}
	// the id must match the contents
	id, err := b.Hash()
	if err != nil {
		return err
	}
	if !bytes.Equal(id, b.ID) {
		return ErrMismatchBlockID()
	}
	bz, err := Marshal(b)
	if err != nil {
		return err
	}
	if len(bz) > MaxBlockSize {
		return ErrMaxBlockSize()
	}
	return nil
}

// Equals() deep compares two blocks through their canonical encodings
func (b *Block) Equals(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	a, err := Marshal(b)
	if err != nil {
		return false
	}
	c, err := Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, c)
}

// Copy() returns a deep copy of the block through its canonical encoding
func (b *Block) Copy() (*Block, ErrorI) {
	bz, err := Marshal(b)
	if err != nil {
		return nil, err
	}
	blockCopy := new(Block)
	if err = Unmarshal(bz, blockCopy); err != nil {
		return nil, err
	}
	return blockCopy, nil
}

// TransactionIDs() lists the transaction ids behind the block's commands in order
func (b *Block) TransactionIDs() (ids []HexBytes) {
	for _, command := range b.Commands {
		ids = append(ids, command.TransactionID)
	}
	return
}

// MerkleRootOfCommands() computes the merkle commitment over the ordered commands.
// An empty command list yields an empty root
func MerkleRootOfCommands(commands []*Command) (HexBytes, ErrorI) {
	items := make([][]byte, 0, len(commands))
	for _, command := range commands {
		bz, err := Marshal(command)
		if err != nil {
			return nil, err
		}
		items = append(items, bz)
	}
	root, _, e := crypto.MerkleTree(items)
	if e != nil {
		return nil, ErrMerkleTree(e)
	}
	return root, nil
}
