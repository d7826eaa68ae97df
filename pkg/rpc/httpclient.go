package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/canopy-network/relayx/pkg/utils"
)

// ErrTxNotFound is returned by TxByHash when the ledger has no record of the
// transaction. Callers must not treat it as a reverted or failed transaction.
var ErrTxNotFound = errors.New("transaction not found")

// HTTPClient is a wrapper around an http.Client bound to a single endpoint,
// with a token-bucket rate limit. Endpoint selection and failover live one
// layer up; this client only talks to the URL it was built with.
type HTTPClient struct {
	url    string
	client *http.Client

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	URL        string
	Timeout    time.Duration
	RPS        int
	Burst      int
	HTTPClient *http.Client
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		url:         strings.TrimRight(o.URL, "/"),
		client:      client,
		maxTokens:   int64(o.Burst),
		refillEvery: time.Second / time.Duration(o.RPS),
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// URL returns the endpoint URL this client is bound to.
func (c *HTTPClient) URL() string {
	return c.url
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire acquires a token from the token-bucket, blocking if necessary.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// doJSON sends an HTTP request with the given method, path, and JSON payload
// and decodes the response into out when provided. Status codes >= 300 are
// returned as errors carrying the status code; the caller decides whether the
// failure counts against the endpoint's health.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	if c.url == "" {
		return fmt.Errorf("no endpoint configured")
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}

	var body *bytes.Reader
	if payload != nil {
		b, mErr := json.Marshal(payload)
		if mErr != nil {
			return mErr
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if reqErr != nil {
		return reqErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}

	// From here on, always drain+close the body before returning.
	if resp.StatusCode == http.StatusNotFound {
		_ = utils.DrainAndClose(resp.Body)
		return ErrTxNotFound
	}
	if resp.StatusCode >= 300 {
		_ = utils.DrainAndClose(resp.Body)
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			_ = utils.DrainAndClose(resp.Body)
			return err
		}
	}

	return utils.DrainAndClose(resp.Body)
}

// ChainHead returns the current height of the chain. It doubles as the
// liveness probe target for the endpoint registry.
func (c *HTTPClient) ChainHead(ctx context.Context) (uint64, error) {
	var head HeadBlock
	if err := c.doJSON(ctx, http.MethodPost, HeightPath, nil, &head); err != nil {
		return 0, err
	}
	return head.Height, nil
}

// SubmitTx submits a signed, opaque transaction payload and returns the
// transaction hash assigned by the ledger. The payload is never inspected.
func (c *HTTPClient) SubmitTx(ctx context.Context, payload []byte) (string, error) {
	var resp SubmitTxResponse
	if err := c.doJSON(ctx, http.MethodPost, SubmitTxPath, json.RawMessage(payload), &resp); err != nil {
		return "", err
	}
	if resp.TxHash == "" {
		return "", fmt.Errorf("submit accepted but no tx hash returned")
	}
	return resp.TxHash, nil
}

// TxByHash looks up the terminal record of a transaction. Returns
// ErrTxNotFound when the ledger has not (yet) seen the hash.
func (c *HTTPClient) TxByHash(ctx context.Context, hash string) (*TxResult, error) {
	var res TxResult
	if err := c.doJSON(ctx, http.MethodPost, TxByHashPath, TxByHashRequest{Hash: hash}, &res); err != nil {
		return nil, err
	}
	if res.TxHash == "" {
		return nil, ErrTxNotFound
	}
	return &res, nil
}
