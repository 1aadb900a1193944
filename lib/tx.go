package lib

import "encoding/json"

/*
	Transaction lifecycle: Pending when first seen, Dispatched once its command is in a
	proposed block, then exactly one terminal state. Committed and Rejected come from
	the commit pipeline; Errored marks a local failure outside the chain. TimedOut is
	never a transaction status: it is a property of one wait call only.
*/

// TxStatus is the lifecycle state of a tracked transaction
type TxStatus uint32

const (
	TxStatusPending    TxStatus = iota // tracked, not yet in a block
	TxStatusDispatched                 // command included in a proposed block
	TxStatusCommitted                  // command committed and executed successfully
	TxStatusRejected                   // command committed but execution or proof verification failed
	TxStatusErrored                    // local failure before any commit verdict
)

// String() returns the human readable name of the status
func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "Pending"
	case TxStatusDispatched:
		return "Dispatched"
	case TxStatusCommitted:
		return "Committed"
	case TxStatusRejected:
		return "Rejected"
	case TxStatusErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// IsTerminal() returns whether the status can never change again
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusCommitted || s == TxStatusRejected || s == TxStatusErrored
}

// MarshalJSON() renders the status by name for external consumers
func (s TxStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON() parses a status from its name
func (s *TxStatus) UnmarshalJSON(bz []byte) error {
	var name string
	if err := json.Unmarshal(bz, &name); err != nil {
		return err
	}
	switch name {
	case "Pending":
		*s = TxStatusPending
	case "Dispatched":
		*s = TxStatusDispatched
	case "Committed":
		*s = TxStatusCommitted
	case "Rejected":
		*s = TxStatusRejected
	case "Errored":
		*s = TxStatusErrored
	default:
		return ErrJSONUnmarshal(errInvalidStatusName)
	}
	return nil
}

var errInvalidStatusName = NewError(CodeJSONUnmarshal, TxnModule, "invalid transaction status name")

// TransactionWaitResult is the external wait protocol contract. Result and JSONResult
// are present only in terminal states, FinalFee is zero until fees settle, and
// TimedOut is set only when the wait bound elapsed before a terminal state
type TransactionWaitResult struct {
	TransactionID HexBytes        `json:"transaction_id"`
	Result        HexBytes        `json:"result,omitempty"`
	JSONResult    json.RawMessage `json:"json_result,omitempty"`
	Status        TxStatus        `json:"status"`
	FinalFee      uint64          `json:"final_fee"`
	TimedOut      bool            `json:"timed_out"`
}
