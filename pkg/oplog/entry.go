package oplog

import (
	"encoding/json"
	"time"
)

// OpType is the closed set of write-operation kinds the relay submits.
type OpType string

const (
	OpPost     OpType = "POST"
	OpLike     OpType = "LIKE"
	OpTip      OpType = "TIP"
	OpMessage  OpType = "MESSAGE"
	OpMint     OpType = "MINT"
	OpTransfer OpType = "TRANSFER"
)

// Valid reports whether t is a known operation kind.
func (t OpType) Valid() bool {
	switch t {
	case OpPost, OpLike, OpTip, OpMessage, OpMint, OpTransfer:
		return true
	}
	return false
}

// Actor is the closed set of actor kinds that originate writes.
type Actor string

const (
	ActorUser   Actor = "USER"
	ActorServer Actor = "SERVER"
	ActorBatch  Actor = "BATCH"
)

// Valid reports whether a is a known actor kind.
func (a Actor) Valid() bool {
	switch a {
	case ActorUser, ActorServer, ActorBatch:
		return true
	}
	return false
}

// Status is the lifecycle state of an entry. Transitions are one-way:
// PENDING to SUCCESS or PENDING to FAILED, never reversed or re-entered.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// ErrorDetail is the normalized form of a failure attached to an entry.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Entry records one write attempt through its full lifecycle. IDs are
// strictly monotonic and never reused; CreatedAt carries the wall-clock
// timestamp separately so rapid successive entries cannot collide.
type Entry struct {
	ID           uint64          `json:"id"`
	Type         OpType          `json:"type"`
	Actor        Actor           `json:"actor"`
	Status       Status          `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TxHash       string          `json:"txHash,omitempty"`
	ActorAddress string          `json:"actorAddress,omitempty"`
	RawResult    json.RawMessage `json:"rawResult,omitempty"`
	Error        *ErrorDetail    `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	DurationMs   *int64          `json:"durationMs,omitempty"`
}

// Completed reports whether the entry reached a terminal status.
func (e *Entry) Completed() bool {
	return e.Status == StatusSuccess || e.Status == StatusFailed
}
