package lib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestCommittee creates a roster of n validators with freshly generated key
// material, one unit of voting power each
func newTestCommittee(t *testing.T, epoch, shard uint64, n int) (*Committee, []*ValidatorKey) {
	var keys []*ValidatorKey
	var validators []*Validator
	for i := 0; i < n; i++ {
		key, err := NewValidatorKey()
		require.NoError(t, err)
		validator, err := key.Validator(1)
		require.NoError(t, err)
		keys = append(keys, key)
		validators = append(validators, validator)
	}
	committee, err := NewCommittee(epoch, shard, validators)
	require.NoError(t, err)
	return committee, keys
}

// newTestQC forms a quorum certificate for a block signed by the given subset of
// the committee
func newTestQC(t *testing.T, committee *Committee, keys []*ValidatorKey, blockID []byte, height uint64, signers []int) *QuorumCertificate {
	qc := &QuorumCertificate{
		BlockID: blockID,
		Height:  height,
		Epoch:   committee.Epoch,
		Shard:   committee.Shard,
	}
	signBytes, err := qc.SignBytes()
	require.NoError(t, err)
	multiKey, err := committee.MultiKey(nil)
	require.NoError(t, err)
	for _, i := range signers {
		private, err := keys[i].BLSPrivateKey()
		require.NoError(t, err)
		require.NoError(t, multiKey.AddSigner(private.Sign(signBytes), i))
	}
	aggregate, e := multiKey.AggregateSignatures()
	require.NoError(t, e)
	qc.Bitmap = multiKey.Bitmap()
	qc.Signature = aggregate
	return qc
}
