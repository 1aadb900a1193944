package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInputs(t *testing.T, values ...uint64) (inputs []*OpenCommitment) {
	for _, value := range values {
		input, err := NewOpenCommitment(value)
		require.NoError(t, err)
		inputs = append(inputs, input)
	}
	return
}

func TestWithdrawProofRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		inputs []uint64
		output uint64
		change []uint64
		fee    uint64
	}{
		{
			name:   "single input no change",
			detail: "one input covering the output plus the fee exactly",
			inputs: []uint64{50},
			output: 40,
			fee:    10,
		},
		{
			name:   "multiple inputs with change",
			detail: "two inputs split into an output, change, and a fee",
			inputs: []uint64{60, 25},
			output: 40,
			change: []uint64{35},
			fee:    10,
		},
		{
			name:   "zero fee",
			detail: "a revealed fee of zero is a valid balance",
			inputs: []uint64{7},
			output: 7,
			fee:    0,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			proof, _, _, err := GenerateWithdrawProof(newTestInputs(t, test.inputs...), test.output, test.fee, test.change...)
			require.NoError(t, err)
			fee, err := VerifyWithdrawProof(proof)
			require.NoError(t, err)
			require.Equal(t, test.fee, fee)
			// verification is a pure function: the same proof yields the same verdict
			again, err := VerifyWithdrawProof(proof)
			require.NoError(t, err)
			require.Equal(t, fee, again)
		})
	}
}

func TestWithdrawProofUnbalancedOpening(t *testing.T) {
	// generation refuses openings that do not sum to output plus fee
	_, _, _, err := GenerateWithdrawProof(newTestInputs(t, 50), 40, 11)
	require.ErrorIs(t, err, ErrUnbalancedOpening)
}

func TestWithdrawProofBalanceMismatch(t *testing.T) {
	proof, _, _, err := GenerateWithdrawProof(newTestInputs(t, 50), 40, 10)
	require.NoError(t, err)
	// claiming a different fee breaks the zero sum of the commitment excess
	proof.RevealedFee = 9
	_, err = VerifyWithdrawProof(proof)
	require.ErrorIs(t, err, ErrBalanceMismatch)
}

func TestWithdrawProofSwappedInputRejected(t *testing.T) {
	proof, _, _, err := GenerateWithdrawProof(newTestInputs(t, 50), 40, 10)
	require.NoError(t, err)
	// substituting a different input commitment unbalances the excess
	substitute, err := NewOpenCommitment(50)
	require.NoError(t, err)
	proof.Inputs[0] = substitute.Commitment
	_, err = VerifyWithdrawProof(proof)
	require.ErrorIs(t, err, ErrBalanceMismatch)
}

func TestWithdrawProofMalformedCommitment(t *testing.T) {
	proof, _, _, err := GenerateWithdrawProof(newTestInputs(t, 50), 40, 10)
	require.NoError(t, err)
	proof.Inputs[0] = []byte("not a commitment")
	_, err = VerifyWithdrawProof(proof)
	require.ErrorIs(t, err, ErrMalformedCommitment)
}

func TestWithdrawProofRangeProofTampered(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		tamper func(p *WithdrawProof)
	}{
		{
			name:   "truncated bits",
			detail: "a range proof must carry exactly one branch per bit",
			tamper: func(p *WithdrawProof) { p.Output.RangeProof.Bits = p.Output.RangeProof.Bits[:63] },
		},
		{
			name:   "tampered challenge",
			detail: "a modified ring challenge breaks the transcript equation",
			tamper: func(p *WithdrawProof) {
				p.Output.RangeProof.Bits[0].Challenge0, p.Output.RangeProof.Bits[0].Challenge1 =
					p.Output.RangeProof.Bits[0].Challenge1, p.Output.RangeProof.Bits[0].Challenge0
			},
		},
		{
			name:   "swapped bit commitments",
			detail: "bit commitments are bound to their index by the transcript",
			tamper: func(p *WithdrawProof) {
				p.Output.RangeProof.Bits[0].Commitment, p.Output.RangeProof.Bits[1].Commitment =
					p.Output.RangeProof.Bits[1].Commitment, p.Output.RangeProof.Bits[0].Commitment
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			proof, _, _, err := GenerateWithdrawProof(newTestInputs(t, 300), 250, 50)
			require.NoError(t, err)
			test.tamper(proof)
			_, err = VerifyWithdrawProof(proof)
			require.ErrorIs(t, err, ErrRangeProofFailed)
		})
	}
}

func TestWithdrawProofNilComponents(t *testing.T) {
	tests := []struct {
		name  string
		proof *WithdrawProof
	}{
		{name: "nil proof", proof: nil},
		{name: "no inputs", proof: &WithdrawProof{Output: &OutputProof{}, Balance: &BalanceProof{}}},
		{name: "no output", proof: &WithdrawProof{Inputs: [][]byte{{1}}, Balance: &BalanceProof{}}},
		{name: "no balance", proof: &WithdrawProof{Inputs: [][]byte{{1}}, Output: &OutputProof{}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := VerifyWithdrawProof(test.proof)
			require.ErrorIs(t, err, ErrNilProof)
		})
	}
}
