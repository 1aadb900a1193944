package lib

import "fmt"

/*
	A quorum certificate is the aggregated proof that a supermajority of the committee
	for an epoch and shard voted for a specific block. The bitmap records which
	committee members signed, in committee order, and the signature is the aggregate
	over the certificate's signable encoding. A certificate is immutable once formed.
*/

// QuorumCertificate carries an aggregate committee vote for one block
type QuorumCertificate struct {
	BlockID   HexBytes `json:"blockID"`   // the block being certified
	Height    uint64   `json:"height"`    // height of the certified block
	Epoch     uint64   `json:"epoch"`     // committee membership period
	Shard     uint64   `json:"shard"`     // shard of the certified block
	Bitmap    HexBytes `json:"bitmap"`    // which committee members signed, in committee order
	Signature HexBytes `json:"signature"` // aggregate signature over SignBytes()
}

// SignBytes() returns the canonical payload each committee member signs: the
// certificate with the vote artifacts themselves cleared
func (qc *QuorumCertificate) SignBytes() ([]byte, ErrorI) {
	bitmap, signature := qc.Bitmap, qc.Signature
	qc.Bitmap, qc.Signature = nil, nil
	defer func() { qc.Bitmap, qc.Signature = bitmap, signature }()
	return Marshal(qc)
}

// CheckBasic() performs stateless sanity validation of the certificate structure
func (qc *QuorumCertificate) CheckBasic() ErrorI {
	if qc == nil || len(qc.BlockID) == 0 || len(qc.Signature) == 0 || len(qc.Bitmap) == 0 {
		return ErrEmptyQuorumCertificate()
	}
	return nil
}

// Check() validates the certificate against the committee for its epoch and shard:
// every signer must be a member, the signers' combined voting power must meet the
// quorum threshold, and the aggregate signature must verify
func (qc *QuorumCertificate) Check(committee *Committee) ErrorI {
	if err := qc.CheckBasic(); err != nil {
		return err
	}
	// one bit per committee member, in committee order
	if expected := (committee.Size() + 7) / 8; len(qc.Bitmap) != expected {
		return ErrInvalidSignerBitmap(fmt.Errorf("bitmap is %d bytes, the committee of %d needs %d", len(qc.Bitmap), committee.Size(), expected))
	}
	multiKey, err := committee.MultiKey(qc.Bitmap)
	if err != nil {
		return err
	}
	// tally the voting power behind the set bits, rejecting bits past the roster
	var signedPower uint64
	for i := 0; i < committee.Size(); i++ {
		enabled, e := multiKey.SignerEnabledAt(i)
		if e != nil {
			return ErrUnknownSigner(i)
		}
		if enabled {
			signedPower += committee.Validators[i].VotingPower
		}
	}
	// the supermajority rule: signed power must exceed two thirds of the total
	if signedPower*3 <= committee.TotalPower()*2 {
		return ErrQuorumNotMet(signedPower, committee.QuorumThreshold())
	}
	bz, err := qc.SignBytes()
	if err != nil {
		return err
	}
	if !multiKey.VerifyBytes(bz, qc.Signature) {
		return ErrInvalidAggSignature()
	}
	return nil
}

// Equals() compares two certificates through their canonical encodings
func (qc *QuorumCertificate) Equals(other *QuorumCertificate) bool {
	if qc == nil || other == nil {
		return qc == other
	}
	a, err := Marshal(qc)
	if err != nil {
		return false
	}
	b, err := Marshal(other)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
