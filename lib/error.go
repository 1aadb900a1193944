package lib

import (
	"fmt"
	"math"
)

// ErrorI is the canonical error type for the node; every failure surfaced across a
// module boundary carries a code and the module it originated from
type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code, and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal      ErrorCode = 1
	CodeJSONUnmarshal    ErrorCode = 2
	CodeMarshal          ErrorCode = 3
	CodeUnmarshal        ErrorCode = 4
	CodeNilBlock         ErrorCode = 5
	CodeNilBlockID       ErrorCode = 6
	CodeNilBlockParent   ErrorCode = 7
	CodeNilProposer      ErrorCode = 8
	CodeMismatchBlockID  ErrorCode = 9
	CodeMerkleTree       ErrorCode = 10
	CodeWriteFile        ErrorCode = 11
	CodeReadFile         ErrorCode = 12
	CodeMaxBlockSize     ErrorCode = 13
	CodeWrongNetwork     ErrorCode = 14
	CodeNilMerkleRoot    ErrorCode = 15
	CodeUnsignedBlock    ErrorCode = 16
	CodeInvalidBlockSig  ErrorCode = 17
	CodeDummyWithPayload ErrorCode = 18
	CodeLogWrite         ErrorCode = 19
	CodeKeyGen           ErrorCode = 20
	CodeEncryptKey       ErrorCode = 21
	CodeDecryptKey       ErrorCode = 22

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeEmptyQuorumCertificate ErrorCode = 1
	CodeUnknownCommittee       ErrorCode = 2
	CodeUnknownSigner          ErrorCode = 3
	CodeQuorumNotMet           ErrorCode = 4
	CodeInvalidAggSignature    ErrorCode = 5
	CodeInvalidSignerBitmap    ErrorCode = 6
	CodeEmptyCommittee         ErrorCode = 7
	CodePubKeyFromBytes        ErrorCode = 8
	CodeNewMultiPubKey         ErrorCode = 9
	CodeNotLeader              ErrorCode = 10
	CodeQCMismatch             ErrorCode = 11
	CodeMissingForeignPledge   ErrorCode = 12
	CodeUnknownBlockStatus     ErrorCode = 13
	CodeStaleForeignIndex      ErrorCode = 15
	CodeAbandonedBranch        ErrorCode = 16
	CodeForeignDummy           ErrorCode = 17

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB            ErrorCode = 1
	CodeCloseDB           ErrorCode = 2
	CodeStoreSet          ErrorCode = 3
	CodeStoreGet          ErrorCode = 4
	CodeDuplicateBlock    ErrorCode = 5
	CodeOrphanBlock       ErrorCode = 6
	CodeHeightMismatch    ErrorCode = 7
	CodeInvalidTransition ErrorCode = 8
	CodeAlreadyStored     ErrorCode = 9
	CodeChainTooDeep      ErrorCode = 10
	CodeBlockNotFound     ErrorCode = 11
	CodeNoCommittedBlock  ErrorCode = 12
	CodeEpochRegression   ErrorCode = 13

	// Crypto Module
	CryptoModule ErrorModule = "crypto"

	// Crypto Module Error Codes
	CodeMalformedCommitment ErrorCode = 1
	CodeRangeProofFailed    ErrorCode = 2
	CodeBalanceMismatch     ErrorCode = 3
	CodeInvalidScalar       ErrorCode = 4
	CodeNilProof            ErrorCode = 5

	// Fee Module
	FeeModule ErrorModule = "fee"

	// Fee Module Error Codes
	CodeFeeOverflow       ErrorCode = 1
	CodeFeeAlreadySettled ErrorCode = 2
	CodeEmptyBreakdown    ErrorCode = 3

	// Transaction Module
	TxnModule ErrorModule = "txn"

	// Transaction Module Error Codes
	CodeUnknownTransaction   ErrorCode = 1
	CodeDuplicateTransaction ErrorCode = 2
	CodeTxnAlreadyFinal      ErrorCode = 3
	CodeAwaitCancelled       ErrorCode = 4

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodeInvalidRequest  ErrorCode = 1
	CodeInvalidBlockID  ErrorCode = 2
	CodeServerListen    ErrorCode = 3
	CodeInvalidTimeout  ErrorCode = 4
	CodeInvalidShardArg ErrorCode = 5
)

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("jsonMarshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("jsonUnmarshal() failed with err: %s", err.Error()))
}

func ErrMarshal(err error) ErrorI {
	return NewError(CodeMarshal, MainModule, fmt.Sprintf("marshal() failed with err: %s", err.Error()))
}

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrNilBlock() ErrorI {
	return NewError(CodeNilBlock, MainModule, "block is nil")
}

func ErrNilBlockID() ErrorI {
	return NewError(CodeNilBlockID, MainModule, "block id is nil")
}

func ErrNilBlockParent() ErrorI {
	return NewError(CodeNilBlockParent, MainModule, "block parent is nil")
}

func ErrNilProposer() ErrorI {
	return NewError(CodeNilProposer, MainModule, "block proposer is nil")
}

func ErrMismatchBlockID() ErrorI {
	return NewError(CodeMismatchBlockID, MainModule, "block id does not match block contents")
}

func ErrMerkleTree(err error) ErrorI {
	return NewError(CodeMerkleTree, MainModule, fmt.Sprintf("merkleTree() failed with err: %s", err.Error()))
}

func ErrNilMerkleRoot() ErrorI {
	return NewError(CodeNilMerkleRoot, MainModule, "merkle root does not match commands")
}

func ErrUnsignedBlock() ErrorI {
	return NewError(CodeUnsignedBlock, MainModule, "non-dummy block is missing the leader signature")
}

func ErrInvalidBlockSignature() ErrorI {
	return NewError(CodeInvalidBlockSig, MainModule, "invalid leader signature on block")
}

func ErrDummyWithPayload() ErrorI {
	return NewError(CodeDummyWithPayload, MainModule, "dummy block carries commands or a leader fee")
}

func ErrWrongNetwork() ErrorI {
	return NewError(CodeWrongNetwork, MainModule, "block is from a different network")
}

func ErrMaxBlockSize() ErrorI {
	return NewError(CodeMaxBlockSize, MainModule, "block exceeds the maximum size")
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("writeFile() failed with err: %s", err.Error()))
}

func ErrKeyGen(err error) ErrorI {
	return NewError(CodeKeyGen, MainModule, fmt.Sprintf("keyGen() failed with err: %s", err.Error()))
}

func ErrEncryptKey(err error) ErrorI {
	return NewError(CodeEncryptKey, MainModule, fmt.Sprintf("encryptKey() failed with err: %s", err.Error()))
}

func ErrDecryptKey() ErrorI {
	return NewError(CodeDecryptKey, MainModule, "key decryption failed, wrong password or corrupted key file")
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("readFile() failed with err: %s", err.Error()))
}

func ErrEmptyQuorumCertificate() ErrorI {
	return NewError(CodeEmptyQuorumCertificate, ConsensusModule, "empty quorum certificate")
}

func ErrUnknownCommittee(epoch, shard uint64) ErrorI {
	return NewError(CodeUnknownCommittee, ConsensusModule, fmt.Sprintf("no committee known for epoch %d shard %d", epoch, shard))
}

func ErrUnknownSigner(index int) ErrorI {
	return NewError(CodeUnknownSigner, ConsensusModule, fmt.Sprintf("signer at bitmap index %d is not a committee member", index))
}

func ErrQuorumNotMet(signed, quorum uint64) ErrorI {
	return NewError(CodeQuorumNotMet, ConsensusModule, fmt.Sprintf("signed power %d is below the quorum threshold %d", signed, quorum))
}

func ErrInvalidAggSignature() ErrorI {
	return NewError(CodeInvalidAggSignature, ConsensusModule, "invalid aggregate signature")
}

func ErrInvalidSignerBitmap(err error) ErrorI {
	return NewError(CodeInvalidSignerBitmap, ConsensusModule, fmt.Sprintf("setBitmap() failed with err: %s", err.Error()))
}

func ErrEmptyCommittee() ErrorI {
	return NewError(CodeEmptyCommittee, ConsensusModule, "committee has no validators")
}

func ErrPubKeyFromBytes(err error) ErrorI {
	return NewError(CodePubKeyFromBytes, ConsensusModule, fmt.Sprintf("publicKeyFromBytes() failed with err: %s", err.Error()))
}

func ErrNewMultiPubKey(err error) ErrorI {
	return NewError(CodeNewMultiPubKey, ConsensusModule, fmt.Sprintf("newMultiPubKey() failed with err: %s", err.Error()))
}

func ErrNotLeader(proposer []byte) ErrorI {
	return NewError(CodeNotLeader, ConsensusModule, fmt.Sprintf("proposer %s is not the leader for this height", BytesToTruncatedString(proposer)))
}

func ErrQCMismatch() ErrorI {
	return NewError(CodeQCMismatch, ConsensusModule, "quorum certificate does not reference the block's parent")
}

func ErrMissingForeignPledge(shard, wanted, observed uint64) ErrorI {
	return NewError(CodeMissingForeignPledge, ConsensusModule,
		fmt.Sprintf("pledge from shard %d never arrived: wanted index %d, observed %d", shard, wanted, observed))
}

func ErrUnknownBlockStatus(blockID []byte) ErrorI {
	return NewError(CodeUnknownBlockStatus, ConsensusModule, fmt.Sprintf("no status tracked for block %s", BytesToTruncatedString(blockID)))
}

func ErrStaleForeignIndex(shard, have, got uint64) ErrorI {
	return NewError(CodeStaleForeignIndex, ConsensusModule,
		fmt.Sprintf("pledge index for shard %d went backwards: have %d, got %d", shard, have, got))
}

func ErrAbandonedBranch(blockID []byte) ErrorI {
	return NewError(CodeAbandonedBranch, ConsensusModule, fmt.Sprintf("block %s sits on an abandoned branch", BytesToTruncatedString(blockID)))
}

func ErrForeignDummy() ErrorI {
	return NewError(CodeForeignDummy, ConsensusModule, "dummy blocks are synthesized locally and never accepted from peers")
}

func ErrOpenDB(err error) ErrorI {
	return NewError(CodeOpenDB, StorageModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) ErrorI {
	return NewError(CodeCloseDB, StorageModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrStoreSet(err error) ErrorI {
	return NewError(CodeStoreSet, StorageModule, fmt.Sprintf("storeSet() failed with err: %s", err.Error()))
}

func ErrStoreGet(err error) ErrorI {
	return NewError(CodeStoreGet, StorageModule, fmt.Sprintf("storeGet() failed with err: %s", err.Error()))
}

func ErrDuplicateBlock(blockID []byte) ErrorI {
	return NewError(CodeDuplicateBlock, StorageModule, fmt.Sprintf("block %s already exists", BytesToTruncatedString(blockID)))
}

func ErrOrphanBlock(parent []byte) ErrorI {
	return NewError(CodeOrphanBlock, StorageModule, fmt.Sprintf("parent block %s is unknown", BytesToTruncatedString(parent)))
}

func ErrHeightMismatch(parentHeight, height uint64) ErrorI {
	return NewError(CodeHeightMismatch, StorageModule,
		fmt.Sprintf("block height %d does not follow parent height %d", height, parentHeight))
}

func ErrInvalidTransition(blockID []byte, transition string) ErrorI {
	return NewError(CodeInvalidTransition, StorageModule,
		fmt.Sprintf("invalid transition %s for block %s", transition, BytesToTruncatedString(blockID)))
}

func ErrAlreadyStored(blockID []byte) ErrorI {
	return NewError(CodeAlreadyStored, StorageModule, fmt.Sprintf("block %s already has a storage timestamp", BytesToTruncatedString(blockID)))
}

func ErrChainTooDeep(walked uint64) ErrorI {
	return NewError(CodeChainTooDeep, StorageModule, fmt.Sprintf("ancestry walk exceeded %d blocks", walked))
}

func ErrBlockNotFound(blockID []byte) ErrorI {
	return NewError(CodeBlockNotFound, StorageModule, fmt.Sprintf("block %s not found", BytesToTruncatedString(blockID)))
}

func ErrNoCommittedBlock(shard uint64) ErrorI {
	return NewError(CodeNoCommittedBlock, StorageModule, fmt.Sprintf("no committed block for shard %d", shard))
}

func ErrEpochRegression(parentEpoch, epoch uint64) ErrorI {
	return NewError(CodeEpochRegression, StorageModule,
		fmt.Sprintf("block epoch %d went backwards from parent epoch %d", epoch, parentEpoch))
}

func ErrFeeOverflow(transactionID []byte) ErrorI {
	return NewError(CodeFeeOverflow, FeeModule, fmt.Sprintf("fee total overflowed for transaction %s", BytesToTruncatedString(transactionID)))
}

func ErrFeeAlreadySettled(transactionID []byte) ErrorI {
	return NewError(CodeFeeAlreadySettled, FeeModule, fmt.Sprintf("fees already settled for transaction %s", BytesToTruncatedString(transactionID)))
}

func ErrEmptyBreakdown(transactionID []byte) ErrorI {
	return NewError(CodeEmptyBreakdown, FeeModule, fmt.Sprintf("no fee entries recorded for transaction %s", BytesToTruncatedString(transactionID)))
}

func ErrUnknownTransaction(transactionID []byte) ErrorI {
	return NewError(CodeUnknownTransaction, TxnModule, fmt.Sprintf("transaction %s is not tracked", BytesToTruncatedString(transactionID)))
}

func ErrDuplicateTransaction(transactionID []byte) ErrorI {
	return NewError(CodeDuplicateTransaction, TxnModule, fmt.Sprintf("transaction %s is already tracked", BytesToTruncatedString(transactionID)))
}

func ErrTxnAlreadyFinal(transactionID []byte) ErrorI {
	return NewError(CodeTxnAlreadyFinal, TxnModule, fmt.Sprintf("transaction %s already reached a final status", BytesToTruncatedString(transactionID)))
}

func ErrAwaitCancelled(err error) ErrorI {
	return NewError(CodeAwaitCancelled, TxnModule, fmt.Sprintf("result wait cancelled by the caller: %s", err.Error()))
}

func ErrInvalidRequest(err error) ErrorI {
	return NewError(CodeInvalidRequest, RPCModule, fmt.Sprintf("invalid request: %s", err.Error()))
}

func ErrInvalidBlockID() ErrorI {
	return NewError(CodeInvalidBlockID, RPCModule, "block id must be a 32 byte hex string")
}

func ErrServerListen(err error) ErrorI {
	return NewError(CodeServerListen, RPCModule, fmt.Sprintf("server listen failed with err: %s", err.Error()))
}

func ErrInvalidTimeout() ErrorI {
	return NewError(CodeInvalidTimeout, RPCModule, "timeout must be a positive duration")
}

func ErrInvalidShardArg() ErrorI {
	return NewError(CodeInvalidShardArg, RPCModule, "shard must be an unsigned integer")
}
