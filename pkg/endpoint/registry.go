package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// ErrAllEndpointsExhausted signals that every configured endpoint failed its
// health check. It is a warning condition, not a hard failure: the registry
// degrades to the last-known endpoint so callers never block on selection.
var ErrAllEndpointsExhausted = errors.New("all endpoints failed health checks")

// Prober issues a liveness probe against a single endpoint. The registry
// bounds each call with its own timeout.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) error
}

// ProbeFunc adapts a function to the Prober interface.
type ProbeFunc func(ctx context.Context, ep Endpoint) error

func (f ProbeFunc) Probe(ctx context.Context, ep Endpoint) error {
	return f(ctx, ep)
}

// Options configures a Registry.
type Options struct {
	// FailureThreshold is the number of consecutive reported failures that
	// triggers a switch to the next endpoint.
	FailureThreshold int
	// HealthInterval throttles probes: each endpoint is probed at most once
	// per interval, the cached verdict is served inside the window.
	HealthInterval time.Duration
	// HealthTimeout bounds each individual probe call.
	HealthTimeout time.Duration
	// SweepWorkers caps the concurrent probes of a health sweep.
	SweepWorkers int
}

func (o *Options) defaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 60 * time.Second
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 5 * time.Second
	}
	if o.SweepWorkers <= 0 {
		o.SweepWorkers = 4
	}
}

// Registry holds the priority-ordered endpoint list, per-endpoint failure
// counters and the "current" pointer. Exactly one endpoint is active at any
// time; endpoints are never removed, only deprioritized via the pointer.
type Registry struct {
	*state
	opts   Options
	prober Prober
	logger *zap.Logger
	pool   pond.Pool
}

type state struct {
	mu        sync.Mutex
	endpoints []*Endpoint // sorted by priority, stable for the registry's lifetime
	current   int
}

// New builds a Registry from the given endpoints. The slice must be non-empty;
// it is re-sorted by ascending priority and the first endpoint starts active.
func New(eps []Endpoint, prober Prober, logger *zap.Logger, opts Options) (*Registry, error) {
	if len(eps) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	opts.defaults()

	sorted := make([]*Endpoint, 0, len(eps))
	for i := range eps {
		ep := eps[i]
		ep.FailureCount = 0
		ep.Active = false
		sorted = append(sorted, &ep)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	sorted[0].Active = true

	return &Registry{
		state:  &state{endpoints: sorted},
		opts:   opts,
		prober: prober,
		logger: logger,
		pool:   pond.NewPool(opts.SweepWorkers),
	}, nil
}

// Current returns a copy of the active endpoint.
func (r *Registry) Current() Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.endpoints[r.current]
}

// All returns copies of every endpoint in priority order.
func (r *Registry) All() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Endpoint, len(r.endpoints))
	for i, ep := range r.endpoints {
		out[i] = *ep
	}
	return out
}

// ReportSuccess resets the endpoint's failure counter to zero. The current
// pointer never moves on success.
func (r *Registry) ReportSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep := r.byName(name); ep != nil {
		ep.FailureCount = 0
		ep.Healthy = true
	}
}

// ReportFailure increments the endpoint's failure counter. When the counter
// reaches the failure threshold and the failing endpoint is the current one,
// the pointer advances to the next endpoint in priority order, wrapping
// around. Returns the new current endpoint and whether a switch happened.
func (r *Registry) ReportFailure(name string) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := r.byName(name)
	if ep == nil {
		return *r.endpoints[r.current], false
	}
	ep.FailureCount++
	ep.Healthy = false
	if ep.FailureCount < r.opts.FailureThreshold {
		return *r.endpoints[r.current], false
	}
	if ep != r.endpoints[r.current] {
		// A non-current endpoint crossing the threshold never moves the pointer.
		return *r.endpoints[r.current], false
	}
	r.logger.Warn("endpoint failure threshold reached, switching",
		zap.String("endpoint", ep.Name),
		zap.Int("failures", ep.FailureCount))
	return r.switchToNext(), true
}

// switchToNext advances the pointer to the next endpoint in priority order,
// wrapping around. Caller must hold the lock. Only the Active flags move;
// failure counters of other endpoints are untouched.
func (r *Registry) switchToNext() Endpoint {
	r.endpoints[r.current].Active = false
	r.current = (r.current + 1) % len(r.endpoints)
	next := r.endpoints[r.current]
	next.Active = true
	r.logger.Info("active endpoint switched",
		zap.String("endpoint", next.Name),
		zap.String("url", next.URL))
	return *next
}

// CheckHealth probes the named endpoint, honoring the per-endpoint throttle:
// inside the throttle window the cached verdict is returned without issuing a
// probe. The probe outcome feeds the success/failure counters. Returns whether
// the threshold switch fired alongside the health verdict.
func (r *Registry) CheckHealth(ctx context.Context, name string) (healthy, switched bool) {
	r.mu.Lock()
	ep := r.byName(name)
	if ep == nil {
		r.mu.Unlock()
		return false, false
	}
	if time.Since(ep.LastChecked) < r.opts.HealthInterval {
		cached := ep.Healthy
		r.mu.Unlock()
		return cached, false
	}
	ep.LastChecked = time.Now()
	probe := *ep
	r.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, r.opts.HealthTimeout)
	defer cancel()
	if err := r.prober.Probe(pctx, probe); err != nil {
		r.logger.Debug("endpoint probe failed",
			zap.String("endpoint", probe.Name),
			zap.Error(err))
		_, switched = r.ReportFailure(name)
		return false, switched
	}
	r.ReportSuccess(name)
	return true, false
}

// FindBestEndpoint checks the current endpoint first and, if it is unhealthy,
// walks the remaining endpoints by priority until one passes its health check,
// making it current. If every endpoint fails, the prior current endpoint is
// returned together with ErrAllEndpointsExhausted so callers can degrade
// gracefully instead of blocking. The switched flag tells the failover layer
// whether to publish a change notification.
func (r *Registry) FindBestEndpoint(ctx context.Context) (ep Endpoint, switched bool, err error) {
	cur := r.Current()
	if healthy, sw := r.CheckHealth(ctx, cur.Name); healthy {
		return r.Current(), false, nil
	} else if sw {
		// Threshold fired during the probe; the pointer already advanced.
		switched = true
	}

	for _, cand := range r.All() {
		if cand.Name == cur.Name {
			continue
		}
		if healthy, _ := r.CheckHealth(ctx, cand.Name); !healthy {
			continue
		}
		r.mu.Lock()
		for i, e := range r.endpoints {
			if e.Name != cand.Name {
				continue
			}
			if i != r.current {
				r.endpoints[r.current].Active = false
				r.current = i
				e.Active = true
				switched = true
			}
			break
		}
		best := *r.endpoints[r.current]
		r.mu.Unlock()
		return best, switched, nil
	}

	r.logger.Warn("all endpoints failed health checks, keeping current",
		zap.String("endpoint", r.Current().Name))
	return r.Current(), switched, ErrAllEndpointsExhausted
}

// Sweep probes every endpoint concurrently through the bounded worker pool.
// Each probe is individually throttled and bounded; a sweep never blocks past
// HealthTimeout plus scheduling overhead. Returns the number of healthy
// endpoints observed.
func (r *Registry) Sweep(ctx context.Context) int {
	group := r.pool.NewGroup()
	var healthy atomic.Int64
	for _, ep := range r.All() {
		name := ep.Name
		group.SubmitErr(func() error {
			if ok, _ := r.CheckHealth(ctx, name); ok {
				healthy.Add(1)
			}
			return nil
		})
	}
	_ = group.Wait()
	return int(healthy.Load())
}

// byName returns the endpoint with the given name. Caller must hold the lock.
func (s *state) byName(name string) *Endpoint {
	for _, ep := range s.endpoints {
		if ep.Name == name {
			return ep
		}
	}
	return nil
}
