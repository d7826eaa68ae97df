package rpc

import "encoding/json"

// Receipt status strings as reported by the ledger RPC.
const (
	TxStatusSuccess  = "success"
	TxStatusReverted = "reverted"
)

// HeadBlock represents the response from the /v1/query/height endpoint.
type HeadBlock struct {
	Height uint64 `json:"height"`
}

// TxByHashRequest is the payload for the /v1/query/tx-by-hash endpoint.
type TxByHashRequest struct {
	Hash string `json:"hash"`
}

// SubmitTxResponse is the payload returned by the /v1/tx endpoint.
type SubmitTxResponse struct {
	TxHash string `json:"txHash"`
}

// TxResult is the terminal record of a submitted transaction as seen by the
// ledger. Status is either "success" or "reverted"; a missing transaction is
// reported through ErrTxNotFound, never through an empty TxResult.
type TxResult struct {
	TxHash    string          `json:"txHash"`
	Height    uint64          `json:"height"`
	BlockHash string          `json:"blockHash"`
	Index     int             `json:"index"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Reverted reports whether the ledger executed the transaction with a failure
// status.
func (r *TxResult) Reverted() bool {
	return r.Status == TxStatusReverted
}
