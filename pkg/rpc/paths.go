package rpc

// RPC endpoint paths for ledger queries and submission.
// All paths are consolidated here so an endpoint migration touches one file.
const (
	HeightPath   = "/v1/query/height"
	TxByHashPath = "/v1/query/tx-by-hash"
	SubmitTxPath = "/v1/tx"
)
