package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"filippo.io/edwards25519"
)

const (
	CommitmentSize = 32
)

/*
	Pedersen commitments hide a value while remaining additively homomorphic:
	Commit(v, r) = r*G + v*H. Sums of commitments commit to sums of values, which
	is what lets a verifier check that confidential inputs equal outputs plus a
	revealed fee without learning any of the amounts.
*/

var (
	// ErrMalformedCommitment is returned when commitment bytes do not decode to a
	// valid non-identity group element
	ErrMalformedCommitment = errors.New("malformed commitment")
	// ErrInvalidScalar is returned when scalar bytes are not canonical
	ErrInvalidScalar = errors.New("invalid scalar")

	// pedersenH is the value generator: a nothing-up-my-sleeve point with unknown
	// discrete log relative to the base point, derived by hashing a fixed domain
	// tag until the digest decodes to a valid point
	pedersenH = deriveH()
)

// deriveH() finds the value generator by try-and-increment over a fixed seed.
// Multiplying by the cofactor lands the point in the prime order subgroup
func deriveH() *edwards25519.Point {
	seed := []byte("lattice/pedersen/generator/H")
	for counter := uint64(0); ; counter++ {
		buf := make([]byte, len(seed)+8)
		copy(buf, seed)
		binary.LittleEndian.PutUint64(buf[len(seed):], counter)
		digest := sha512.Sum512(buf)
		point, err := new(edwards25519.Point).SetBytes(digest[:32])
		if err != nil {
			continue
		}
		point.MultByCofactor(point)
		if point.Equal(edwards25519.NewIdentityPoint()) == 1 {
			continue
		}
		return point
	}
}

// PedersenH() returns a copy of the value generator
func PedersenH() *edwards25519.Point {
	return new(edwards25519.Point).Set(pedersenH)
}

// NewBlinding() generates a random blinding factor
func NewBlinding() (*edwards25519.Scalar, error) {
	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return new(edwards25519.Scalar).SetUniformBytes(seed)
}

// ScalarFromUint64() lifts an integer amount into the scalar field
func ScalarFromUint64(v uint64) *edwards25519.Scalar {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[:8], v)
	scalar, err := new(edwards25519.Scalar).SetCanonicalBytes(buf[:])
	if err != nil {
		// a 64 bit integer is always below the group order
		panic(err)
	}
	return scalar
}

// Commit() produces the compressed Pedersen commitment r*G + v*H
func Commit(value uint64, blinding *edwards25519.Scalar) []byte {
	return CommitPoint(value, blinding).Bytes()
}

// CommitPoint() produces the Pedersen commitment r*G + v*H as a group element
func CommitPoint(value uint64, blinding *edwards25519.Scalar) *edwards25519.Point {
	vH := new(edwards25519.Point).ScalarMult(ScalarFromUint64(value), pedersenH)
	rG := new(edwards25519.Point).ScalarBaseMult(blinding)
	return new(edwards25519.Point).Add(rG, vH)
}

// DecompressCommitment() decodes commitment bytes, rejecting malformed encodings and
// the identity element
func DecompressCommitment(bz []byte) (*edwards25519.Point, error) {
	if len(bz) != CommitmentSize {
		return nil, ErrMalformedCommitment
	}
	point, err := new(edwards25519.Point).SetBytes(bz)
	if err != nil {
		return nil, ErrMalformedCommitment
	}
	if point.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return nil, ErrMalformedCommitment
	}
	return point, nil
}
