package failover

import (
	"context"
	"encoding/json"

	"github.com/canopy-network/relayx/pkg/endpoint"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// SwitchChannel is the Pub/Sub channel endpoint switches are mirrored onto for
// external observers.
const SwitchChannel = "relayx:endpoint.switched"

// Broadcaster mirrors switch events to an external bus, best-effort.
// *redis.Client satisfies it.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, message interface{})
}

// Manager wraps the endpoint registry and is the surface callers use: it
// exposes the current best endpoint, accepts success/failure reports, and
// publishes a change notification on every endpoint switch. Notifications are
// fire-and-forget; subscribers must rebuild their clients idempotently since
// events may be dropped or duplicated.
type Manager struct {
	registry  *endpoint.Registry
	logger    *zap.Logger
	subs      *xsync.Map[string, chan endpoint.Endpoint]
	broadcast Broadcaster
}

// New creates a Manager around the given registry. broadcast may be nil.
func New(registry *endpoint.Registry, broadcast Broadcaster, logger *zap.Logger) *Manager {
	return &Manager{
		registry:  registry,
		logger:    logger,
		subs:      xsync.NewMap[string, chan endpoint.Endpoint](),
		broadcast: broadcast,
	}
}

// Current returns the presently selected endpoint.
func (m *Manager) Current() endpoint.Endpoint {
	return m.registry.Current()
}

// All returns every configured endpoint in priority order.
func (m *Manager) All() []endpoint.Endpoint {
	return m.registry.All()
}

// StreamingChannel returns the push-channel address of the current endpoint,
// or ok=false when it exposes none.
func (m *Manager) StreamingChannel() (string, bool) {
	cur := m.registry.Current()
	return cur.StreamingURL, cur.HasStreaming()
}

// ReportSuccess resets the endpoint's failure counter.
func (m *Manager) ReportSuccess(name string) {
	m.registry.ReportSuccess(name)
}

// ReportFailure feeds a failure into the registry and publishes a change
// notification when the failure threshold triggered a switch.
func (m *Manager) ReportFailure(name string) {
	if cur, switched := m.registry.ReportFailure(name); switched {
		m.publish(cur)
	}
}

// CheckHealth probes the named endpoint through the registry's throttle.
func (m *Manager) CheckHealth(ctx context.Context, name string) bool {
	healthy, switched := m.registry.CheckHealth(ctx, name)
	if switched {
		m.publish(m.registry.Current())
	}
	return healthy
}

// FindBestEndpoint returns the best endpoint available right now, switching
// to it if needed. When every endpoint is unhealthy the prior current one is
// returned together with endpoint.ErrAllEndpointsExhausted; callers should
// proceed with it rather than block.
func (m *Manager) FindBestEndpoint(ctx context.Context) (endpoint.Endpoint, error) {
	best, switched, err := m.registry.FindBestEndpoint(ctx)
	if switched {
		m.publish(best)
	}
	return best, err
}

// Sweep runs a concurrent health pass over all endpoints.
func (m *Manager) Sweep(ctx context.Context) int {
	return m.registry.Sweep(ctx)
}

// Subscribe registers for endpoint-change notifications. The returned channel
// is buffered; a slow consumer misses events instead of blocking the switch
// path.
func (m *Manager) Subscribe() (string, <-chan endpoint.Endpoint) {
	id := uuid.NewString()
	ch := make(chan endpoint.Endpoint, 4)
	m.subs.Store(id, ch)
	return id, ch
}

// Unsubscribe removes a subscriber. Its channel is closed.
func (m *Manager) Unsubscribe(id string) {
	if ch, ok := m.subs.LoadAndDelete(id); ok {
		close(ch)
	}
}

func (m *Manager) publish(ep endpoint.Endpoint) {
	m.subs.Range(func(_ string, ch chan endpoint.Endpoint) bool {
		select {
		case ch <- ep:
		default:
			// Subscriber is behind; it will catch up on the next event or
			// rebuild from Current().
		}
		return true
	})
	if m.broadcast != nil {
		bz, err := json.Marshal(ep)
		if err != nil {
			return
		}
		m.broadcast.Publish(context.Background(), SwitchChannel, string(bz))
	}
	m.logger.Info("published endpoint change",
		zap.String("endpoint", ep.Name),
		zap.String("url", ep.URL))
}
