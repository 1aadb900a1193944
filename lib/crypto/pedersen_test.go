package crypto

import (
	"testing"

	"filippo.io/edwards25519"
	"github.com/stretchr/testify/require"
)

func TestCommitmentHomomorphism(t *testing.T) {
	// commitments to values must add like the values themselves
	r1, err := NewBlinding()
	require.NoError(t, err)
	r2, err := NewBlinding()
	require.NoError(t, err)
	// Commit(a, r1) + Commit(b, r2)
	sum := new(edwards25519.Point).Add(CommitPoint(30, r1), CommitPoint(12, r2))
	// Commit(a+b, r1+r2)
	combined := CommitPoint(42, new(edwards25519.Scalar).Add(r1, r2))
	require.Equal(t, 1, sum.Equal(combined))
}

func TestCommitmentHidesValueBehindBlinding(t *testing.T) {
	r1, err := NewBlinding()
	require.NoError(t, err)
	r2, err := NewBlinding()
	require.NoError(t, err)
	// the same value under different blindings yields different commitments
	require.NotEqual(t, Commit(100, r1), Commit(100, r2))
	// the same opening always yields the same commitment
	require.Equal(t, Commit(100, r1), Commit(100, r1))
}

func TestDecompressCommitment(t *testing.T) {
	blinding, err := NewBlinding()
	require.NoError(t, err)
	tests := []struct {
		name   string
		detail string
		bz     []byte
		error  error
	}{
		{
			name:   "valid",
			detail: "a well formed commitment decodes",
			bz:     Commit(7, blinding),
		},
		{
			name:   "wrong length",
			detail: "commitments are exactly 32 bytes",
			bz:     []byte("short"),
			error:  ErrMalformedCommitment,
		},
		{
			name:   "not a point",
			detail: "bytes that do not decode to a group element are rejected",
			bz:     MaxHash,
			error:  ErrMalformedCommitment,
		},
		{
			name:   "identity",
			detail: "the identity element is rejected",
			bz:     edwards25519.NewIdentityPoint().Bytes(),
			error:  ErrMalformedCommitment,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			point, err := DecompressCommitment(test.bz)
			if test.error != nil {
				require.ErrorIs(t, err, test.error)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, point)
		})
	}
}

func TestValueGeneratorIndependence(t *testing.T) {
	// H must not be the base point or the identity
	require.Equal(t, 0, PedersenH().Equal(edwards25519.NewIdentityPoint()))
	require.Equal(t, 0, PedersenH().Equal(edwards25519.NewGeneratorPoint()))
}
