package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/canopy-network/relayx/pkg/failover"
	"github.com/canopy-network/relayx/pkg/oplog"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Deps are the collaborators the operator API reads from. RedisPing may be
// nil when the snapshot store is disabled.
type Deps struct {
	Logger    *zap.Logger
	Failover  *failover.Manager
	OpLog     *oplog.Logger
	RedisPing func(ctx context.Context) error
}

type Controller struct {
	deps *Deps
}

// New returns a new controller.
func New(deps *Deps) *Controller {
	return &Controller{deps: deps}
}

// NewRouter returns a router with the operator surface. This is a diagnostic
// API for humans and monitors, not the product-facing write path.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.HandleFunc("/readyz", c.HandleReady).Methods("GET")

	r.HandleFunc("/v1/endpoints", c.HandleEndpoints).Methods("GET")
	r.HandleFunc("/v1/endpoints/best", c.HandleBestEndpoint).Methods("GET")
	r.HandleFunc("/v1/logs", c.HandleLogs).Methods("GET")
	r.HandleFunc("/v1/stats", c.HandleStats).Methods("GET")

	return r
}

func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	if c.deps.RedisPing != nil {
		if err := c.deps.RedisPing(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "snapshot store unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Controller) HandleEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current":   c.deps.Failover.Current(),
		"endpoints": c.deps.Failover.All(),
	})
}

// HandleBestEndpoint runs a full selection pass. Degradation is reported in
// the body, never as a failure status: the relay always has a current
// endpoint.
func (c *Controller) HandleBestEndpoint(w http.ResponseWriter, r *http.Request) {
	best, err := c.deps.Failover.FindBestEndpoint(r.Context())
	out := map[string]interface{}{"endpoint": best}
	if err != nil {
		out["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Controller) HandleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var entries []oplog.Entry
	switch {
	case q.Get("type") != "":
		t := oplog.OpType(q.Get("type"))
		if !t.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown operation type"})
			return
		}
		entries = c.deps.OpLog.ByType(t)
	case q.Get("status") != "":
		s := oplog.Status(q.Get("status"))
		if !s.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
			return
		}
		entries = c.deps.OpLog.ByStatus(s)
	case q.Get("actor") != "":
		a := oplog.Actor(q.Get("actor"))
		if !a.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown actor kind"})
			return
		}
		entries = c.deps.OpLog.ByActor(a)
	case q.Get("limit") != "":
		n, err := strconv.Atoi(q.Get("limit"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		entries = c.deps.OpLog.Recent(n)
	default:
		entries = c.deps.OpLog.All()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

func (c *Controller) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, c.deps.OpLog.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
