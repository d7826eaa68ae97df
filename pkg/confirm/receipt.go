package confirm

import (
	"time"

	"github.com/canopy-network/relayx/pkg/rpc"
)

// Receipt is the structured outcome of a confirmed operation. It is created
// only by the Waiter upon resolution and is immutable once produced.
type Receipt struct {
	TxHash      string    `json:"txHash"`
	Height      uint64    `json:"height"`
	BlockHash   string    `json:"blockHash"`
	Status      string    `json:"status"` // "success" | "reverted"
	ConfirmedAt time.Time `json:"confirmedAt"`
	ElapsedMs   int64     `json:"elapsedMs"`
}

// Success reports whether the ledger executed the operation successfully.
func (r *Receipt) Success() bool {
	return r.Status == rpc.TxStatusSuccess
}

// Tier buckets the confirmation latency into a qualitative performance tier.
// Diagnostic only; nothing functional may branch on it.
func (r *Receipt) Tier() string {
	switch {
	case r.ElapsedMs < 200:
		return "instant"
	case r.ElapsedMs < 500:
		return "fast"
	case r.ElapsedMs < 1000:
		return "sub-second"
	case r.ElapsedMs < 2000:
		return "moderate"
	default:
		return "slow"
	}
}

func newReceipt(res *rpc.TxResult, start time.Time) *Receipt {
	now := time.Now()
	elapsed := now.Sub(start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return &Receipt{
		TxHash:      res.TxHash,
		Height:      res.Height,
		BlockHash:   res.BlockHash,
		Status:      res.Status,
		ConfirmedAt: now,
		ElapsedMs:   elapsed,
	}
}
