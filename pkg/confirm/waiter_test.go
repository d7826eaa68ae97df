package confirm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/relayx/pkg/confirm"
	"github.com/canopy-network/relayx/pkg/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ledgerStub serves tx-by-hash lookups, optionally delaying the receipt's
// availability to simulate confirmation latency.
func ledgerStub(t *testing.T, result rpc.TxResult, availableAfter time.Duration) *httptest.Server {
	t.Helper()
	start := time.Now()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpc.TxByHashRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Hash != result.TxHash || time.Since(start) < availableAfter {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(result)
	}))
}

// TestWaiter_PollResolvesSuccess covers the 50ms-receipt scenario: the wait
// resolves well inside the budget with a success receipt and a sane elapsed
// figure.
func TestWaiter_PollResolvesSuccess(t *testing.T) {
	result := rpc.TxResult{TxHash: "op-123", Height: 7, BlockHash: "b7", Status: rpc.TxStatusSuccess}
	server := ledgerStub(t, result, 50*time.Millisecond)
	defer server.Close()

	w := confirm.NewWaiter(zaptest.NewLogger(t), confirm.Options{
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	client := rpc.NewHTTPWithOpts(rpc.Opts{URL: server.URL})

	receipt, err := w.Wait(context.Background(), confirm.Source{Client: client}, "op-123")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "op-123", receipt.TxHash)
	assert.True(t, receipt.Success())
	assert.GreaterOrEqual(t, receipt.ElapsedMs, int64(40))
	assert.Less(t, receipt.ElapsedMs, int64(500))
	assert.Equal(t, uint64(7), receipt.Height)
}

// TestWaiter_Timeout asserts the wait never blocks past the budget plus one
// polling interval, and that the timeout is reported as its own condition.
func TestWaiter_Timeout(t *testing.T) {
	server := ledgerStub(t, rpc.TxResult{TxHash: "never"}, time.Hour)
	defer server.Close()

	w := confirm.NewWaiter(zaptest.NewLogger(t), confirm.Options{
		Timeout:      200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
	client := rpc.NewHTTPWithOpts(rpc.Opts{URL: server.URL})

	started := time.Now()
	receipt, err := w.Wait(context.Background(), confirm.Source{Client: client}, "op-999")
	elapsed := time.Since(started)

	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, confirm.ErrConfirmationTimeout)
	assert.NotErrorIs(t, err, confirm.ErrTransactionReverted)
	assert.Less(t, elapsed, 200*time.Millisecond+100*time.Millisecond)
}

// TestWaiter_Reverted returns both the receipt and the distinct revert
// condition.
func TestWaiter_Reverted(t *testing.T) {
	result := rpc.TxResult{TxHash: "op-bad", Height: 9, Status: rpc.TxStatusReverted, Error: "insufficient funds"}
	server := ledgerStub(t, result, 0)
	defer server.Close()

	w := confirm.NewWaiter(zaptest.NewLogger(t), confirm.Options{
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	client := rpc.NewHTTPWithOpts(rpc.Opts{URL: server.URL})

	receipt, err := w.Wait(context.Background(), confirm.Source{Client: client}, "op-bad")
	assert.ErrorIs(t, err, confirm.ErrTransactionReverted)
	require.NotNil(t, receipt)
	assert.Equal(t, rpc.TxStatusReverted, receipt.Status)
	assert.False(t, receipt.Success())
}

// TestWaiter_EmptyHash is the not-found condition: nothing was ever
// submitted, which is neither a timeout nor a revert.
func TestWaiter_EmptyHash(t *testing.T) {
	w := confirm.NewWaiter(zaptest.NewLogger(t), confirm.Options{})

	receipt, err := w.Wait(context.Background(), confirm.Source{}, "")
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, rpc.ErrTxNotFound)
	assert.NotErrorIs(t, err, confirm.ErrConfirmationTimeout)
}

// wsLedgerStub upgrades to a websocket and pushes the terminal event as soon
// as the matching subscription arrives.
func wsLedgerStub(t *testing.T, result rpc.TxResult) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		var sub struct {
			Action string `json:"action"`
			TxHash string `json:"txHash"`
		}
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub.Action)
		if sub.TxHash != result.TxHash {
			return
		}
		payload, _ := json.Marshal(result)
		_ = conn.WriteJSON(map[string]interface{}{"type": "tx.result", "payload": json.RawMessage(payload)})
	}))
}

// TestWaiter_StreamResolves covers the push path: the subscription delivers
// the terminal event without any polling.
func TestWaiter_StreamResolves(t *testing.T) {
	result := rpc.TxResult{TxHash: "op-ws", Height: 3, BlockHash: "b3", Status: rpc.TxStatusSuccess}
	server := wsLedgerStub(t, result)
	defer server.Close()
	streamURL := "ws" + strings.TrimPrefix(server.URL, "http")

	w := confirm.NewWaiter(zaptest.NewLogger(t), confirm.Options{Timeout: time.Second})

	receipt, err := w.Wait(context.Background(), confirm.Source{StreamURL: streamURL}, "op-ws")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "op-ws", receipt.TxHash)
	assert.True(t, receipt.Success())
}

// TestWaiter_StreamFallsBackToPolling: an unreachable push channel degrades
// to the polling path inside the same budget.
func TestWaiter_StreamFallsBackToPolling(t *testing.T) {
	result := rpc.TxResult{TxHash: "op-fb", Height: 5, Status: rpc.TxStatusSuccess}
	server := ledgerStub(t, result, 0)
	defer server.Close()

	w := confirm.NewWaiter(zaptest.NewLogger(t), confirm.Options{
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	client := rpc.NewHTTPWithOpts(rpc.Opts{URL: server.URL})
	src := confirm.Source{Client: client, StreamURL: "ws://127.0.0.1:1/v1/subscribe"}

	receipt, err := w.Wait(context.Background(), src, "op-fb")
	require.NoError(t, err)
	assert.Equal(t, "op-fb", receipt.TxHash)
}
