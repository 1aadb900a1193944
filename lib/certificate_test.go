package lib

import (
	"testing"

	"github.com/lattice-network/lattice/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestCertificateCheckBasic(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		qc     *QuorumCertificate
		error  string
	}{
		{
			name:   "empty",
			detail: "the qc is nil or empty",
			qc:     nil,
			error:  "empty quorum certificate",
		},
		{
			name:   "no signature",
			detail: "the aggregate signature is missing",
			qc:     &QuorumCertificate{BlockID: crypto.Hash([]byte("b")), Bitmap: []byte{0b111}},
			error:  "empty quorum certificate",
		},
		{
			name:   "no bitmap",
			detail: "the signer bitmap is missing",
			qc:     &QuorumCertificate{BlockID: crypto.Hash([]byte("b")), Signature: []byte("sig")},
			error:  "empty quorum certificate",
		},
		{
			name:   "complete",
			detail: "a structurally complete qc passes the stateless check",
			qc:     &QuorumCertificate{BlockID: crypto.Hash([]byte("b")), Bitmap: []byte{0b111}, Signature: []byte("sig")},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.qc.CheckBasic()
			if test.error != "" {
				require.ErrorContains(t, err, test.error)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCertificateCheck(t *testing.T) {
	committee, keys := newTestCommittee(t, 0, 0, 4)
	blockID := crypto.Hash([]byte("block"))
	tests := []struct {
		name    string
		detail  string
		signers []int
		mutate  func(qc *QuorumCertificate)
		error   string
	}{
		{
			name:    "three of four",
			detail:  "three unit weight signers exceed two thirds of four",
			signers: []int{0, 1, 3},
			mutate:  func(qc *QuorumCertificate) {},
		},
		{
			name:    "all four",
			detail:  "the full committee trivially meets the quorum",
			signers: []int{0, 1, 2, 3},
			mutate:  func(qc *QuorumCertificate) {},
		},
		{
			name:    "two of four",
			detail:  "two signers are exactly half and fall below the supermajority",
			signers: []int{0, 1},
			mutate:  func(qc *QuorumCertificate) {},
			error:   "below the quorum threshold",
		},
		{
			name:    "bitmap length mismatch",
			detail:  "the bitmap must carry exactly one bit per committee member",
			signers: []int{0, 1, 3},
			mutate:  func(qc *QuorumCertificate) { qc.Bitmap = append(qc.Bitmap, 0x00) },
			error:   "setBitmap() failed",
		},
		{
			name:    "tampered signature",
			detail:  "a corrupted aggregate signature never verifies",
			signers: []int{0, 1, 3},
			mutate:  func(qc *QuorumCertificate) { qc.Signature[0] ^= 0xFF },
			error:   "invalid aggregate signature",
		},
		{
			name:    "certified block swapped",
			detail:  "the signature covers the block id, a swap invalidates it",
			signers: []int{0, 1, 3},
			mutate:  func(qc *QuorumCertificate) { qc.BlockID = crypto.Hash([]byte("other")) },
			error:   "invalid aggregate signature",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			qc := newTestQC(t, committee, keys, blockID, 1, test.signers)
			test.mutate(qc)
			err := qc.Check(committee)
			if test.error != "" {
				require.ErrorContains(t, err, test.error)
				return
			}
			require.NoError(t, err)
		})
	}
}
