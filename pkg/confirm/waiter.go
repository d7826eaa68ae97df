package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/canopy-network/relayx/pkg/rpc"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The three terminal conditions of a wait. They are never conflated: a timeout
// is an ambiguous outcome (the operation may still confirm later), a revert is
// a definitive on-ledger failure, and not-found means the operation never
// reached an endpoint.
var (
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Source is where a single wait resolves from: the receipt-lookup client of
// the active endpoint plus its optional push channel.
type Source struct {
	Client    rpc.Client
	StreamURL string
}

// Options configures a Waiter.
type Options struct {
	// Timeout bounds the whole wait, default 5s.
	Timeout time.Duration
	// PollInterval is the receipt-lookup cadence on the polling path, default 100ms.
	PollInterval time.Duration
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}

// Waiter resolves submitted operations to Receipts. It subscribes to the
// endpoint's push channel when one is available and falls back to bounded
// polling otherwise. It observes outcomes only; it never retries submission.
type Waiter struct {
	opts   Options
	logger *zap.Logger
	dialer *websocket.Dialer
}

// NewWaiter creates a Waiter.
func NewWaiter(logger *zap.Logger, opts Options) *Waiter {
	opts.defaults()
	return &Waiter{
		opts:   opts,
		logger: logger,
		dialer: websocket.DefaultDialer,
	}
}

// Wait blocks until the transaction reaches a terminal state or the timeout
// budget elapses. Resolution and cancellation race; the first wins and the
// losing path is torn down before Wait returns. A reverted transaction yields
// both the Receipt and ErrTransactionReverted.
func (w *Waiter) Wait(ctx context.Context, src Source, txHash string) (*Receipt, error) {
	if txHash == "" {
		return nil, rpc.ErrTxNotFound
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	resCh := make(chan *rpc.TxResult, 1)
	if src.StreamURL != "" {
		go w.subscribe(ctx, src, txHash, resCh)
	} else {
		go w.poll(ctx, src.Client, txHash, resCh)
	}

	select {
	case res := <-resCh:
		receipt := newReceipt(res, start)
		w.logger.Debug("confirmation resolved",
			zap.String("txHash", txHash),
			zap.String("status", receipt.Status),
			zap.Int64("elapsedMs", receipt.ElapsedMs),
			zap.String("tier", receipt.Tier()))
		if res.Reverted() {
			return receipt, ErrTransactionReverted
		}
		return receipt, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrConfirmationTimeout
		}
		return nil, ctx.Err()
	}
}

// poll looks the transaction up at a fixed interval until it turns terminal
// or the context is cancelled. A not-found result keeps polling: the ledger
// may simply not have seen the hash yet.
func (w *Waiter) poll(ctx context.Context, client rpc.Client, txHash string, out chan<- *rpc.TxResult) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		res, err := client.TxByHash(ctx, txHash)
		if err == nil {
			select {
			case out <- res:
			default:
			}
			return
		}
		if !errors.Is(err, rpc.ErrTxNotFound) && !errors.Is(err, context.Canceled) {
			w.logger.Debug("receipt poll failed",
				zap.String("txHash", txHash),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// subscribeRequest is the message sent on the push channel to register
// interest in a transaction hash.
type subscribeRequest struct {
	Action string `json:"action"`
	TxHash string `json:"txHash"`
}

// streamMessage is a server-pushed event. Terminal events carry the TxResult
// as payload.
type streamMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// subscribe opens the websocket push channel and waits for a terminal event
// for txHash. If the channel cannot be established the waiter degrades to
// polling within the same budget. The connection is closed when the context
// is cancelled, which unblocks any pending read.
func (w *Waiter) subscribe(ctx context.Context, src Source, txHash string, out chan<- *rpc.TxResult) {
	conn, resp, err := w.dialer.DialContext(ctx, src.StreamURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		w.logger.Debug("push channel unavailable, falling back to polling",
			zap.String("streamUrl", src.StreamURL),
			zap.Error(err))
		w.poll(ctx, src.Client, txHash, out)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", TxHash: txHash}); err != nil {
		w.logger.Debug("push subscribe failed, falling back to polling",
			zap.Error(err))
		w.poll(ctx, src.Client, txHash, out)
		return
	}

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("push channel closed, falling back to polling",
				zap.Error(err))
			w.poll(ctx, src.Client, txHash, out)
			return
		}
		if msg.Type != "tx.result" {
			continue
		}
		var res rpc.TxResult
		if err := json.Unmarshal(msg.Payload, &res); err != nil || res.TxHash != txHash {
			continue
		}
		select {
		case out <- &res:
		default:
		}
		return
	}
}
