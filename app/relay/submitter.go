package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/canopy-network/relayx/pkg/confirm"
	"github.com/canopy-network/relayx/pkg/endpoint"
	"github.com/canopy-network/relayx/pkg/failover"
	"github.com/canopy-network/relayx/pkg/oplog"
	"github.com/canopy-network/relayx/pkg/rpc"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Error codes stored on failed log entries so the taxonomy survives
// serialization.
const (
	CodeConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	CodeTxReverted          = "TX_REVERTED"
	CodeTxNotFound          = "TX_NOT_FOUND"
	CodeSubmitFailed        = "SUBMIT_FAILED"
)

// Handle identifies an open logged operation held by a caller.
type Handle struct {
	id uint64
}

// Operation is one opaque write to relay. The payload is a signed transaction
// the relay never inspects.
type Operation struct {
	Type         oplog.OpType
	Actor        oplog.Actor
	ActorAddress string
	Payload      json.RawMessage
}

// Submitter is the inbound surface for domain write operations. It opens a
// log entry, submits against the endpoint currently selected by the failover
// manager, waits for confirmation on the same endpoint, closes the entry, and
// feeds the outcome back into endpoint health. It deliberately does not retry
// submission: a timeout leaves the outcome ambiguous and the decision to
// resubmit belongs to the caller.
type Submitter struct {
	fo      *failover.Manager
	factory rpc.Factory
	waiter  *confirm.Waiter
	log     *oplog.Logger
	logger  *zap.Logger

	mu      sync.Mutex
	client  rpc.Client
	clients *xsync.Map[string, rpc.Client]
	subID   string
}

// NewSubmitter creates a Submitter and subscribes it to endpoint-change
// notifications so its client follows the active endpoint.
func NewSubmitter(ctx context.Context, fo *failover.Manager, factory rpc.Factory, waiter *confirm.Waiter, log *oplog.Logger, logger *zap.Logger) *Submitter {
	s := &Submitter{
		fo:      fo,
		factory: factory,
		waiter:  waiter,
		log:     log,
		logger:  logger,
		clients: xsync.NewMap[string, rpc.Client](),
	}
	s.rebuild(fo.Current())

	id, ch := fo.Subscribe()
	s.subID = id
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ep, ok := <-ch:
				if !ok {
					return
				}
				s.rebuild(ep)
			}
		}
	}()
	return s
}

// Close detaches the submitter from change notifications.
func (s *Submitter) Close() {
	s.fo.Unsubscribe(s.subID)
}

// rebuild points the submitter at the given endpoint's client. Idempotent:
// repeated notifications for the same endpoint are no-ops, and clients are
// cached per URL so duplicated events never leak connections.
func (s *Submitter) rebuild(ep endpoint.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.URL() == ep.URL {
		return
	}
	client, _ := s.clients.LoadOrCompute(ep.URL, func() (rpc.Client, bool) {
		return s.factory.NewClient(ep.URL), false
	})
	s.client = client
	s.logger.Info("submitter client rebuilt",
		zap.String("endpoint", ep.Name),
		zap.String("url", ep.URL))
}

func (s *Submitter) currentClient() rpc.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Begin opens a PENDING log entry for a caller that manages its own write.
func (s *Submitter) Begin(t oplog.OpType, a oplog.Actor, payload json.RawMessage) (Handle, error) {
	id, err := s.log.Start(t, a, payload)
	if err != nil {
		return Handle{}, err
	}
	return Handle{id: id}, nil
}

// CompleteSuccess resolves a handle as successful.
func (s *Submitter) CompleteSuccess(h Handle, txHash, actorAddress string, result json.RawMessage) {
	s.log.Success(h.id, txHash, actorAddress, result)
}

// CompleteFailure resolves a handle as failed, normalizing the error.
func (s *Submitter) CompleteFailure(h Handle, err error) {
	s.log.Failure(h.id, normalizeError(err))
}

// Submit runs the full pipeline for one operation: log open, submit, wait for
// confirmation, log close, endpoint health report. A reverted transaction
// returns its receipt together with confirm.ErrTransactionReverted; a timeout
// returns confirm.ErrConfirmationTimeout and the caller must treat the
// outcome as unknown, not as "did not happen".
func (s *Submitter) Submit(ctx context.Context, op Operation) (*confirm.Receipt, error) {
	h, err := s.Begin(op.Type, op.Actor, op.Payload)
	if err != nil {
		return nil, err
	}

	ep, epErr := s.fo.FindBestEndpoint(ctx)
	if epErr != nil {
		// Degraded: every endpoint looks down, try the last-known one anyway.
		s.logger.Warn("submitting against degraded endpoint",
			zap.String("endpoint", ep.Name),
			zap.Error(epErr))
	}
	// The change notification is async; make sure this submit uses the
	// endpoint we just selected.
	s.rebuild(ep)
	client := s.currentClient()

	txHash, err := client.SubmitTx(ctx, op.Payload)
	if err != nil {
		s.fo.ReportFailure(ep.Name)
		s.CompleteFailure(h, err)
		return nil, err
	}

	streamURL, _ := s.fo.StreamingChannel()
	receipt, err := s.waiter.Wait(ctx, confirm.Source{Client: client, StreamURL: streamURL}, txHash)
	switch {
	case err == nil:
		s.fo.ReportSuccess(ep.Name)
		s.CompleteSuccess(h, txHash, op.ActorAddress, marshalReceipt(receipt))
		return receipt, nil
	case errors.Is(err, confirm.ErrTransactionReverted):
		// The endpoint did its job; only the transaction failed.
		s.fo.ReportSuccess(ep.Name)
		s.CompleteFailure(h, err)
		return receipt, err
	default:
		s.fo.ReportFailure(ep.Name)
		s.CompleteFailure(h, err)
		return nil, err
	}
}

func marshalReceipt(r *confirm.Receipt) json.RawMessage {
	bz, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return bz
}

// normalizeError maps an error into the stored detail form, tagging the
// typed conditions with stable codes.
func normalizeError(err error) oplog.ErrorDetail {
	detail := oplog.ErrorDetail{Message: err.Error()}
	switch {
	case errors.Is(err, confirm.ErrConfirmationTimeout):
		detail.Code = CodeConfirmationTimeout
	case errors.Is(err, confirm.ErrTransactionReverted):
		detail.Code = CodeTxReverted
	case errors.Is(err, rpc.ErrTxNotFound):
		detail.Code = CodeTxNotFound
	default:
		detail.Code = CodeSubmitFailed
	}
	return detail
}
