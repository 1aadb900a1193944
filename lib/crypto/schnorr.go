package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"

	"filippo.io/edwards25519"
)

const (
	SchnorrPrivKeySize   = 32
	SchnorrPubKeySize    = 32
	SchnorrSignatureSize = 64 // public nonce (32) || response scalar (32)
)

/*
	Schnorr signatures over edwards25519 are used where a single signer attests to a payload:
	the leader signature on a block (public nonce + signature) and the balance proof of a
	confidential withdraw. They share the group with the Pedersen commitment scheme, so a
	balance proof is just a Schnorr signature keyed by the commitment excess.
*/

// ensure the Schnorr keys conform to the key interfaces
var (
	_ PrivateKeyI = &SchnorrPrivateKey{}
	_ PublicKeyI  = &SchnorrPublicKey{}
)

// SchnorrPrivateKey is a signing key on the edwards25519 group
type SchnorrPrivateKey struct {
	scalar *edwards25519.Scalar
}

// SchnorrPublicKey is the verification key paired with a SchnorrPrivateKey
type SchnorrPublicKey struct {
	point *edwards25519.Point
}

// NewSchnorrPrivateKey() generates a fresh random Schnorr private key
func NewSchnorrPrivateKey() (*SchnorrPrivateKey, error) {
	seed := make([]byte, 64)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	scalar, err := new(edwards25519.Scalar).SetUniformBytes(seed)
	if err != nil {
		return nil, err
	}
	return &SchnorrPrivateKey{scalar: scalar}, nil
}

// NewSchnorrPrivateKeyFromBytes() parses a Schnorr private key from its canonical 32 byte form
func NewSchnorrPrivateKeyFromBytes(bz []byte) (*SchnorrPrivateKey, error) {
	scalar, err := new(edwards25519.Scalar).SetCanonicalBytes(bz)
	if err != nil {
		return nil, err
	}
	return &SchnorrPrivateKey{scalar: scalar}, nil
}

// NewSchnorrPrivateKeyFromString() parses a Schnorr private key from a hex string
func NewSchnorrPrivateKeyFromString(hexString string) (*SchnorrPrivateKey, error) {
	bz, err := hex.DecodeString(hexString)
	if err != nil {
		return nil, err
	}
	return NewSchnorrPrivateKeyFromBytes(bz)
}

// Bytes() returns the canonical binary representation of the private key
func (s *SchnorrPrivateKey) Bytes() []byte { return s.scalar.Bytes() }

// Scalar() exposes the underlying scalar for commitment arithmetic
func (s *SchnorrPrivateKey) Scalar() *edwards25519.Scalar { return s.scalar }

// Sign() produces a 64 byte signature: the public nonce followed by the response scalar.
// The nonce is derived deterministically from the key and message, so signing never
// depends on the quality of the runtime's entropy source
func (s *SchnorrPrivateKey) Sign(msg []byte) []byte {
	k := hashToScalar("lattice/schnorr/nonce", s.scalar.Bytes(), msg)
	bigR := new(edwards25519.Point).ScalarBaseMult(k)
	pub := new(edwards25519.Point).ScalarBaseMult(s.scalar)
	e := hashToScalar("lattice/schnorr/challenge", bigR.Bytes(), pub.Bytes(), msg)
	// response = k + e*x
	response := new(edwards25519.Scalar).MultiplyAdd(e, s.scalar, k)
	sig := make([]byte, 0, SchnorrSignatureSize)
	sig = append(sig, bigR.Bytes()...)
	sig = append(sig, response.Bytes()...)
	return sig
}

// PublicKey() returns the verification key paired with this private key
func (s *SchnorrPrivateKey) PublicKey() PublicKeyI {
	return &SchnorrPublicKey{point: new(edwards25519.Point).ScalarBaseMult(s.scalar)}
}

// Equals() compares two private key objects and returns if they are equal
func (s *SchnorrPrivateKey) Equals(i PrivateKeyI) bool {
	other, ok := i.(*SchnorrPrivateKey)
	if !ok {
		return false
	}
	return s.scalar.Equal(other.scalar) == 1
}

// String() returns the hex string representation of the private key
func (s *SchnorrPrivateKey) String() string { return hex.EncodeToString(s.Bytes()) }

// MarshalJSON() is the json.Marshaller implementation for the SchnorrPrivateKey object
func (s *SchnorrPrivateKey) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON() is the json.Unmarshaler implementation for the SchnorrPrivateKey object
func (s *SchnorrPrivateKey) UnmarshalJSON(bz []byte) (err error) {
	var hexString string
	if err = json.Unmarshal(bz, &hexString); err != nil {
		return
	}
	key, err := NewSchnorrPrivateKeyFromString(hexString)
	if err != nil {
		return
	}
	*s = *key
	return
}

// NewSchnorrPublicKeyFromBytes() parses a Schnorr public key from its compressed 32 byte form
func NewSchnorrPublicKeyFromBytes(bz []byte) (*SchnorrPublicKey, error) {
	point, err := new(edwards25519.Point).SetBytes(bz)
	if err != nil {
		return nil, err
	}
	return &SchnorrPublicKey{point: point}, nil
}

// Bytes() returns the compressed binary representation of the public key
func (s *SchnorrPublicKey) Bytes() []byte { return s.point.Bytes() }

// VerifyBytes() verifies a 64 byte signature over the message
func (s *SchnorrPublicKey) VerifyBytes(msg []byte, sig []byte) bool {
	if len(sig) != SchnorrSignatureSize {
		return false
	}
	return verifySchnorr(s.point, sig[:32], sig[32:], msg)
}

// Equals() compares two public key objects and returns true if they are equal
func (s *SchnorrPublicKey) Equals(i PublicKeyI) bool {
	other, ok := i.(*SchnorrPublicKey)
	if !ok {
		return false
	}
	return s.point.Equal(other.point) == 1
}

// String() returns the hex string representation of the public key
func (s *SchnorrPublicKey) String() string { return hex.EncodeToString(s.Bytes()) }

// verifySchnorr() checks response*G == R + e*P for the challenge derived from the transcript
func verifySchnorr(public *edwards25519.Point, nonceBytes, responseBytes, msg []byte) bool {
	bigR, err := new(edwards25519.Point).SetBytes(nonceBytes)
	if err != nil {
		return false
	}
	response, err := new(edwards25519.Scalar).SetCanonicalBytes(responseBytes)
	if err != nil {
		return false
	}
	e := hashToScalar("lattice/schnorr/challenge", bigR.Bytes(), public.Bytes(), msg)
	lhs := new(edwards25519.Point).ScalarBaseMult(response)
	rhs := new(edwards25519.Point).Add(bigR, new(edwards25519.Point).ScalarMult(e, public))
	return subtle.ConstantTimeCompare(lhs.Bytes(), rhs.Bytes()) == 1
}

// hashToScalar() maps a domain separated transcript into the scalar field
func hashToScalar(domain string, parts ...[]byte) *edwards25519.Scalar {
	h := sha512.New()
	h.Write([]byte(domain))
	for _, part := range parts {
		h.Write(part)
	}
	scalar, err := new(edwards25519.Scalar).SetUniformBytes(h.Sum(nil))
	if err != nil {
		// sha512 output is always 64 bytes; SetUniformBytes cannot fail on it
		panic(errors.New("hash to scalar: " + err.Error()))
	}
	return scalar
}
