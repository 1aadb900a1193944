package fsm

import (
	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/lib/crypto"
)

/*
	Commands are opaque to the consensus pipeline; only the finalizer interprets them.
	The payload is a small envelope: either raw application data or a confidential
	withdraw proof. Fees follow the kind: opaque commands pay for storage and compute,
	withdraws pay their own revealed fee.
*/

// CommandKind discriminates the command payload envelope
type CommandKind uint32

const (
	CommandKindOpaque               CommandKind = iota // raw application data
	CommandKindConfidentialWithdraw                    // a confidential value transfer
)

const (
	feePerStoredByte uint64 = 1 // fee charged per payload byte persisted
	feePerCommand    uint64 = 2 // flat execution fee per command
)

// commandEnvelope is the decoded form of a command payload
type commandEnvelope struct {
	Kind     CommandKind           `json:"kind"`
	Data     lib.HexBytes          `json:"data,omitempty"`
	Withdraw *crypto.WithdrawProof `json:"withdraw,omitempty"`
}

// NewOpaqueCommand() wraps raw application data into a command
func NewOpaqueCommand(transactionID, data []byte) (*lib.Command, lib.ErrorI) {
	payload, err := lib.Marshal(&commandEnvelope{Kind: CommandKindOpaque, Data: data})
	if err != nil {
		return nil, err
	}
	return &lib.Command{TransactionID: transactionID, Payload: payload}, nil
}

// NewWithdrawCommand() wraps a confidential withdraw proof into a command
func NewWithdrawCommand(transactionID []byte, proof *crypto.WithdrawProof) (*lib.Command, lib.ErrorI) {
	payload, err := lib.Marshal(&commandEnvelope{Kind: CommandKindConfidentialWithdraw, Withdraw: proof})
	if err != nil {
		return nil, err
	}
	return &lib.Command{TransactionID: transactionID, Payload: payload}, nil
}

// executeCommand() interprets one committed command and produces its result, the fee
// breakdown to settle, or the reason it was rejected. Rejections charge no fee
func executeCommand(command *lib.Command) (result lib.HexBytes, breakdown FeeBreakdown, rejectReason string) {
	envelope := new(commandEnvelope)
	if err := lib.Unmarshal(command.Payload, envelope); err != nil {
		return nil, nil, "malformed command payload"
	}
	switch envelope.Kind {
	case CommandKindOpaque:
		return crypto.Hash(envelope.Data), FeeBreakdown{
			FeeSourceStorage: uint64(len(command.Payload)) * feePerStoredByte,
			FeeSourceCompute: feePerCommand,
		}, ""
	case CommandKindConfidentialWithdraw:
		// a failed proof is a final verdict for this transaction, never retried
		fee, err := crypto.VerifyWithdrawProof(envelope.Withdraw)
		if err != nil {
			return nil, nil, err.Error()
		}
		return envelope.Withdraw.Output.Commitment, FeeBreakdown{
			FeeSourceConfidentialProofs: fee,
		}, ""
	default:
		return nil, nil, "unknown command kind"
	}
}
