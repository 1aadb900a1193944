package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"filippo.io/edwards25519"
)

const (
	// RangeProofBits is the width of the binding range proof; committed amounts must
	// fit in an unsigned 64 bit integer
	RangeProofBits = 64
)

var (
	// ErrRangeProofFailed is returned when an output's range proof does not verify
	ErrRangeProofFailed = errors.New("range proof failed")
	// ErrBalanceMismatch is returned when inputs minus outputs minus the revealed fee
	// is not a commitment to zero
	ErrBalanceMismatch = errors.New("balance mismatch")
	// ErrNilProof is returned when a required proof component is missing
	ErrNilProof = errors.New("nil proof component")
	// ErrUnbalancedOpening is returned by proof generation when the opened values do not sum
	ErrUnbalancedOpening = errors.New("opened input values do not cover outputs plus fee")
)

/*
	A withdraw proof authorizes a confidential value transfer. It bundles the ordered
	input commitments being spent, an output proof per new commitment (the commitment
	plus a range proof that the hidden amount is a valid 64 bit value), and a balance
	proof: a Schnorr signature keyed by the commitment excess, attesting that
	sum(inputs) - sum(outputs) - fee*H is a commitment to zero. Verification is a pure
	function of the proof bytes.
*/

// BitProof is a two-branch ring proof that a bit commitment opens to 0 or 2^i
type BitProof struct {
	Commitment []byte `json:"commitment"`
	Challenge0 []byte `json:"challenge0"`
	Challenge1 []byte `json:"challenge1"`
	Response0  []byte `json:"response0"`
	Response1  []byte `json:"response1"`
}

// RangeProof proves a commitment hides a value in [0, 2^RangeProofBits) via a
// bit decomposition whose partial commitments sum to the full commitment
type RangeProof struct {
	Bits []*BitProof `json:"bits"`
}

// OutputProof is a new commitment plus the range proof binding its hidden amount
type OutputProof struct {
	Commitment []byte      `json:"commitment"`
	RangeProof *RangeProof `json:"rangeProof"`
}

// BalanceProof is a Schnorr signature (public nonce + signature) over the commitment excess
type BalanceProof struct {
	PublicNonce []byte `json:"publicNonce"`
	Signature   []byte `json:"signature"`
}

// WithdrawProof bundles everything needed to verify a confidential withdraw
type WithdrawProof struct {
	Inputs      [][]byte      `json:"inputs"`
	Output      *OutputProof  `json:"output"`
	Change      *OutputProof  `json:"change,omitempty"`
	RevealedFee uint64        `json:"revealedFee"`
	Balance     *BalanceProof `json:"balance"`
}

// OpenCommitment is a commitment together with its opening, held by the prover only
type OpenCommitment struct {
	Value      uint64
	Blinding   *edwards25519.Scalar
	Commitment []byte
}

// NewOpenCommitment() commits to a value under a fresh random blinding factor
func NewOpenCommitment(value uint64) (*OpenCommitment, error) {
	blinding, err := NewBlinding()
	if err != nil {
		return nil, err
	}
	return &OpenCommitment{Value: value, Blinding: blinding, Commitment: Commit(value, blinding)}, nil
}

// VerifyWithdrawProof() verifies a confidential withdraw and returns the revealed fee.
// The same input always yields the same verdict and the same fee
func VerifyWithdrawProof(proof *WithdrawProof) (fee uint64, err error) {
	if proof == nil || proof.Output == nil || proof.Balance == nil || len(proof.Inputs) == 0 {
		return 0, ErrNilProof
	}
	// decompress every input commitment
	inputs := make([]*edwards25519.Point, 0, len(proof.Inputs))
	for _, raw := range proof.Inputs {
		point, e := DecompressCommitment(raw)
		if e != nil {
			return 0, e
		}
		inputs = append(inputs, point)
	}
	// decompress and range check every output
	output, err := verifyOutputProof(proof.Output)
	if err != nil {
		return 0, err
	}
	outputs := []*edwards25519.Point{output}
	if proof.Change != nil {
		change, e := verifyOutputProof(proof.Change)
		if e != nil {
			return 0, e
		}
		outputs = append(outputs, change)
	}
	// excess = sum(inputs) - sum(outputs) - fee*H; the balance proof is a Schnorr
	// signature under the excess, so a valid signature proves the excess is a
	// commitment to zero value
	excess := edwards25519.NewIdentityPoint()
	for _, in := range inputs {
		excess.Add(excess, in)
	}
	for _, out := range outputs {
		excess.Subtract(excess, out)
	}
	feePoint := new(edwards25519.Point).ScalarMult(ScalarFromUint64(proof.RevealedFee), pedersenH)
	excess.Subtract(excess, feePoint)
	if !verifySchnorr(excess, proof.Balance.PublicNonce, proof.Balance.Signature, balanceTranscript(proof)) {
		return 0, ErrBalanceMismatch
	}
	return proof.RevealedFee, nil
}

// GenerateWithdrawProof() builds a withdraw proof from opened inputs. An optional change
// value produces a second output. The opened values must satisfy
// sum(inputs) == output + change + fee
func GenerateWithdrawProof(inputs []*OpenCommitment, outputValue, fee uint64, changeValue ...uint64) (proof *WithdrawProof, output, change *OpenCommitment, err error) {
	if len(inputs) == 0 {
		return nil, nil, nil, ErrNilProof
	}
	var inputSum, outputSum uint64
	for _, in := range inputs {
		inputSum += in.Value
	}
	outputSum = outputValue + fee
	if len(changeValue) > 0 {
		outputSum += changeValue[0]
	}
	if inputSum != outputSum {
		return nil, nil, nil, ErrUnbalancedOpening
	}
	// open the output commitments
	if output, err = NewOpenCommitment(outputValue); err != nil {
		return nil, nil, nil, err
	}
	outputProof, err := generateRangeProof(output)
	if err != nil {
		return nil, nil, nil, err
	}
	proof = &WithdrawProof{
		Output:      &OutputProof{Commitment: output.Commitment, RangeProof: outputProof},
		RevealedFee: fee,
	}
	for _, in := range inputs {
		proof.Inputs = append(proof.Inputs, in.Commitment)
	}
	// the blinding excess pairs with the commitment excess under G
	excess := new(edwards25519.Scalar).Set(scalarZero())
	for _, in := range inputs {
		excess.Add(excess, in.Blinding)
	}
	excess.Subtract(excess, output.Blinding)
	if len(changeValue) > 0 {
		if change, err = NewOpenCommitment(changeValue[0]); err != nil {
			return nil, nil, nil, err
		}
		changeProof, e := generateRangeProof(change)
		if e != nil {
			return nil, nil, nil, e
		}
		proof.Change = &OutputProof{Commitment: change.Commitment, RangeProof: changeProof}
		excess.Subtract(excess, change.Blinding)
	}
	// sign the transcript with the excess as the key
	signer := &SchnorrPrivateKey{scalar: excess}
	sig := signer.Sign(balanceTranscript(proof))
	proof.Balance = &BalanceProof{PublicNonce: sig[:32], Signature: sig[32:]}
	return proof, output, change, nil
}

// verifyOutputProof() decompresses an output commitment and checks its range proof
func verifyOutputProof(out *OutputProof) (*edwards25519.Point, error) {
	commitment, err := DecompressCommitment(out.Commitment)
	if err != nil {
		return nil, err
	}
	if out.RangeProof == nil || len(out.RangeProof.Bits) != RangeProofBits {
		return nil, ErrRangeProofFailed
	}
	// the bit commitments must recompose to the full commitment
	sum := edwards25519.NewIdentityPoint()
	bitPoints := make([]*edwards25519.Point, RangeProofBits)
	for i, bit := range out.RangeProof.Bits {
		point, e := new(edwards25519.Point).SetBytes(bit.Commitment)
		if e != nil {
			return nil, ErrRangeProofFailed
		}
		bitPoints[i] = point
		sum.Add(sum, point)
	}
	if sum.Equal(commitment) != 1 {
		return nil, ErrRangeProofFailed
	}
	// each bit commitment must open to 0 or 2^i
	for i, bit := range out.RangeProof.Bits {
		if !verifyBitProof(commitment, bitPoints[i], bit, uint(i)) {
			return nil, ErrRangeProofFailed
		}
	}
	return commitment, nil
}

// verifyBitProof() checks the two-branch ring proof: the commitment opens under G alone
// (bit = 0) or under G after subtracting 2^i*H (bit = 1), without revealing which
func verifyBitProof(full, bitCommitment *edwards25519.Point, bit *BitProof, index uint) bool {
	c0, err := new(edwards25519.Scalar).SetCanonicalBytes(bit.Challenge0)
	if err != nil {
		return false
	}
	c1, err := new(edwards25519.Scalar).SetCanonicalBytes(bit.Challenge1)
	if err != nil {
		return false
	}
	s0, err := new(edwards25519.Scalar).SetCanonicalBytes(bit.Response0)
	if err != nil {
		return false
	}
	s1, err := new(edwards25519.Scalar).SetCanonicalBytes(bit.Response1)
	if err != nil {
		return false
	}
	// branch 0 statement: P0 = C_i, branch 1 statement: P1 = C_i - 2^i*H
	p0 := bitCommitment
	p1 := new(edwards25519.Point).Subtract(bitCommitment, bitWeight(index))
	// R_b = s_b*G - c_b*P_b
	r0 := new(edwards25519.Point).Subtract(
		new(edwards25519.Point).ScalarBaseMult(s0),
		new(edwards25519.Point).ScalarMult(c0, p0))
	r1 := new(edwards25519.Point).Subtract(
		new(edwards25519.Point).ScalarBaseMult(s1),
		new(edwards25519.Point).ScalarMult(c1, p1))
	expected := bitChallenge(full, bitCommitment, r0, r1, index)
	actual := new(edwards25519.Scalar).Add(c0, c1)
	return actual.Equal(expected) == 1
}

// generateRangeProof() decomposes the opened value into bit commitments whose blindings
// sum to the full blinding, and produces a ring proof per bit
func generateRangeProof(open *OpenCommitment) (*RangeProof, error) {
	full, err := DecompressCommitment(open.Commitment)
	if err != nil {
		return nil, err
	}
	// split the blinding across the bits so the partial commitments recompose
	blindings := make([]*edwards25519.Scalar, RangeProofBits)
	remaining := new(edwards25519.Scalar).Set(open.Blinding)
	for i := 0; i < RangeProofBits-1; i++ {
		if blindings[i], err = NewBlinding(); err != nil {
			return nil, err
		}
		remaining.Subtract(remaining, blindings[i])
	}
	blindings[RangeProofBits-1] = remaining
	proof := &RangeProof{Bits: make([]*BitProof, RangeProofBits)}
	for i := 0; i < RangeProofBits; i++ {
		bitSet := open.Value&(1<<uint(i)) != 0
		bitProof, e := generateBitProof(full, blindings[i], bitSet, uint(i))
		if e != nil {
			return nil, e
		}
		proof.Bits[i] = bitProof
	}
	return proof, nil
}

// generateBitProof() produces the two-branch ring proof for one bit: the real branch is
// proven with a fresh nonce, the other branch is simulated with a random challenge
func generateBitProof(full *edwards25519.Point, blinding *edwards25519.Scalar, bitSet bool, index uint) (*BitProof, error) {
	// C_i = r_i*G (+ 2^i*H when the bit is set)
	bitCommitment := new(edwards25519.Point).ScalarBaseMult(blinding)
	if bitSet {
		bitCommitment.Add(bitCommitment, bitWeight(index))
	}
	p0 := bitCommitment
	p1 := new(edwards25519.Point).Subtract(bitCommitment, bitWeight(index))
	nonce, err := NewBlinding()
	if err != nil {
		return nil, err
	}
	fakeChallenge, err := NewBlinding()
	if err != nil {
		return nil, err
	}
	fakeResponse, err := NewBlinding()
	if err != nil {
		return nil, err
	}
	var r0, r1 *edwards25519.Point
	if bitSet {
		// simulate branch 0, prove branch 1
		r0 = new(edwards25519.Point).Subtract(
			new(edwards25519.Point).ScalarBaseMult(fakeResponse),
			new(edwards25519.Point).ScalarMult(fakeChallenge, p0))
		r1 = new(edwards25519.Point).ScalarBaseMult(nonce)
	} else {
		// prove branch 0, simulate branch 1
		r0 = new(edwards25519.Point).ScalarBaseMult(nonce)
		r1 = new(edwards25519.Point).Subtract(
			new(edwards25519.Point).ScalarBaseMult(fakeResponse),
			new(edwards25519.Point).ScalarMult(fakeChallenge, p1))
	}
	challenge := bitChallenge(full, bitCommitment, r0, r1, index)
	realChallenge := new(edwards25519.Scalar).Subtract(challenge, fakeChallenge)
	// s = k + c*r
	realResponse := new(edwards25519.Scalar).MultiplyAdd(realChallenge, blinding, nonce)
	bit := &BitProof{Commitment: bitCommitment.Bytes()}
	if bitSet {
		bit.Challenge0, bit.Response0 = fakeChallenge.Bytes(), fakeResponse.Bytes()
		bit.Challenge1, bit.Response1 = realChallenge.Bytes(), realResponse.Bytes()
	} else {
		bit.Challenge0, bit.Response0 = realChallenge.Bytes(), realResponse.Bytes()
		bit.Challenge1, bit.Response1 = fakeChallenge.Bytes(), fakeResponse.Bytes()
	}
	return bit, nil
}

// bitWeight() returns 2^i * H
func bitWeight(index uint) *edwards25519.Point {
	return new(edwards25519.Point).ScalarMult(ScalarFromUint64(1<<index), pedersenH)
}

// bitChallenge() derives the ring challenge from the full transcript of one bit
func bitChallenge(full, bitCommitment, r0, r1 *edwards25519.Point, index uint) *edwards25519.Scalar {
	var indexBytes [8]byte
	binary.LittleEndian.PutUint64(indexBytes[:], uint64(index))
	return hashToScalar("lattice/range/bit", full.Bytes(), bitCommitment.Bytes(), r0.Bytes(), r1.Bytes(), indexBytes[:])
}

// balanceTranscript() binds the balance proof to every commitment and the revealed fee
func balanceTranscript(proof *WithdrawProof) []byte {
	h := sha256.New()
	h.Write([]byte("lattice/balance"))
	for _, in := range proof.Inputs {
		h.Write(in)
	}
	h.Write(proof.Output.Commitment)
	if proof.Change != nil {
		h.Write(proof.Change.Commitment)
	}
	var feeBytes [8]byte
	binary.LittleEndian.PutUint64(feeBytes[:], proof.RevealedFee)
	h.Write(feeBytes[:])
	return h.Sum(nil)
}

// scalarZero() returns the additive identity of the scalar field
func scalarZero() *edwards25519.Scalar {
	zero, _ := new(edwards25519.Scalar).SetCanonicalBytes(make([]byte, 32))
	return zero
}
