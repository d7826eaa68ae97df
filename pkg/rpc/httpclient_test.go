package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHTTPClient_ChainHead tests the liveness probe query.
func TestHTTPClient_ChainHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, HeightPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HeadBlock{Height: 42})
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{URL: server.URL})
	height, err := client.ChainHead(context.Background())

	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
}

// TestHTTPClient_SubmitTx tests submission of an opaque payload.
func TestHTTPClient_SubmitTx(t *testing.T) {
	payload := []byte(`{"signed":"deadbeef"}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, SubmitTxPath, r.URL.Path)
		var got json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.JSONEq(t, string(payload), string(got))
		_ = json.NewEncoder(w).Encode(SubmitTxResponse{TxHash: "abc123"})
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{URL: server.URL})
	hash, err := client.SubmitTx(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)
}

// TestHTTPClient_SubmitTx_NoHash tests that an accepted submit without a hash
// is an error rather than a silent empty handle.
func TestHTTPClient_SubmitTx_NoHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(SubmitTxResponse{})
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{URL: server.URL})
	_, err := client.SubmitTx(context.Background(), []byte(`{}`))
	require.Error(t, err)
}

// TestHTTPClient_TxByHash tests receipt lookup including the not-found path.
func TestHTTPClient_TxByHash(t *testing.T) {
	known := TxResult{TxHash: "abc123", Height: 10, BlockHash: "b10", Status: TxStatusSuccess}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, TxByHashPath, r.URL.Path)
		var req TxByHashRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Hash != known.TxHash {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(known)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{URL: server.URL})

	res, err := client.TxByHash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, known.Height, res.Height)
	assert.False(t, res.Reverted())

	_, err = client.TxByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTxNotFound)
}

// TestHTTPClient_ServerError tests that 5xx responses surface as errors.
func TestHTTPClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{URL: server.URL})
	_, err := client.ChainHead(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTxNotFound)
}
