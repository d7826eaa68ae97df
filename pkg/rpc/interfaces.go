package rpc

import "context"

// Client captures the ledger RPC calls used by the reliability core: liveness
// probing, submission, and receipt lookup. JSON is used throughout.
type Client interface {
	ChainHead(ctx context.Context) (uint64, error)
	SubmitTx(ctx context.Context, payload []byte) (string, error)
	TxByHash(ctx context.Context, hash string) (*TxResult, error)
	URL() string
}

// Factory produces RPC clients bound to a single endpoint URL. The failover
// layer rebuilds clients through a Factory whenever the active endpoint
// changes.
type Factory interface {
	NewClient(url string) Client
}

type httpFactory struct {
	opts Opts
}

// NewHTTPFactory returns a factory that builds HTTP clients with shared defaults.
func NewHTTPFactory(opts Opts) Factory {
	return &httpFactory{opts: opts}
}

func (f *httpFactory) NewClient(url string) Client {
	o := f.opts
	o.URL = url
	return NewHTTPWithOpts(o)
}
