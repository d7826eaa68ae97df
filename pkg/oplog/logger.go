package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options configures a Logger.
type Options struct {
	// Capacity is the in-memory ring buffer size, default 100.
	Capacity int
	// SnapshotSize is the number of most recent entries persisted, default 50.
	SnapshotSize int
}

func (o *Options) defaults() {
	if o.Capacity <= 0 {
		o.Capacity = 100
	}
	if o.SnapshotSize <= 0 {
		o.SnapshotSize = 50
	}
}

// Logger records the full PENDING to SUCCESS/FAILED lifecycle of every write
// attempt in a capacity-bounded FIFO ring buffer, with derived statistics and
// best-effort write-behind persistence. All buffer mutation is serialized by
// a single mutex; the persistence write happens off the caller's path.
type Logger struct {
	mu      sync.Mutex
	entries []*Entry // oldest first
	byID    map[uint64]*Entry
	nextID  uint64

	opts   Options
	store  SnapshotStore // nil disables persistence
	logger *zap.Logger

	persistCh chan struct{}
	done      chan struct{}
	stopped   sync.Once
	wg        sync.WaitGroup
}

// NewLogger creates a Logger. store may be nil for in-memory-only operation.
func NewLogger(logger *zap.Logger, store SnapshotStore, opts Options) *Logger {
	opts.defaults()
	l := &Logger{
		byID:      make(map[uint64]*Entry),
		opts:      opts,
		store:     store,
		logger:    logger,
		persistCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if store != nil {
		l.wg.Add(1)
		go l.persistLoop()
	}
	return l
}

// Restore seeds the buffer from the durable snapshot. A missing or corrupt
// snapshot is not an error: the logger starts empty either way. The ID
// counter resumes past the highest restored ID so IDs are never reused.
func (l *Logger) Restore(ctx context.Context) {
	if l.store == nil {
		return
	}
	entries, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn("could not load interaction log snapshot, starting empty",
			zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range entries {
		e := entries[i]
		if e.ID > l.nextID {
			l.nextID = e.ID
		}
		l.entries = append(l.entries, &e)
		l.byID[e.ID] = &e
	}
	l.evictLocked()
	l.logger.Info("restored interaction log snapshot",
		zap.Int("entries", len(entries)))
}

// Close flushes one final snapshot and stops the persistence worker.
func (l *Logger) Close() {
	l.stopped.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.store != nil {
			l.persistOnce()
		}
	})
}

// Start opens a PENDING entry and returns its ID.
func (l *Logger) Start(t OpType, a Actor, payload json.RawMessage) (uint64, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("unknown operation type %q", t)
	}
	if !a.Valid() {
		return 0, fmt.Errorf("unknown actor kind %q", a)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	e := &Entry{
		ID:        l.nextID,
		Type:      t,
		Actor:     a,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	l.entries = append(l.entries, e)
	l.byID[e.ID] = e
	l.evictLocked()
	return e.ID, nil
}

// Success transitions the entry to SUCCESS and records the transaction hash,
// the actor's resolved address, and the raw result. Unknown, evicted, or
// already-completed entries are left untouched.
func (l *Logger) Success(id uint64, txHash, actorAddress string, rawResult json.RawMessage) {
	l.complete(id, func(e *Entry) {
		e.Status = StatusSuccess
		e.TxHash = txHash
		e.ActorAddress = actorAddress
		e.RawResult = rawResult
	})
}

// Failure transitions the entry to FAILED and stores the normalized error.
func (l *Logger) Failure(id uint64, detail ErrorDetail) {
	l.complete(id, func(e *Entry) {
		e.Status = StatusFailed
		e.Error = &detail
	})
}

// complete applies the one-way PENDING to terminal transition and schedules a
// snapshot persist. DurationMs is set exactly once and is never negative.
func (l *Logger) complete(id uint64, apply func(*Entry)) {
	l.mu.Lock()
	e, ok := l.byID[id]
	if !ok || e.Completed() {
		l.mu.Unlock()
		l.logger.Warn("ignoring completion for unknown or completed entry",
			zap.Uint64("id", id))
		return
	}
	apply(e)
	now := time.Now()
	e.CompletedAt = &now
	ms := now.Sub(e.CreatedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	e.DurationMs = &ms
	l.mu.Unlock()

	l.schedulePersist()
}

// evictLocked enforces the ring capacity, dropping oldest entries first.
// Caller must hold the lock.
func (l *Logger) evictLocked() {
	for len(l.entries) > l.opts.Capacity {
		oldest := l.entries[0]
		l.entries = l.entries[1:]
		delete(l.byID, oldest.ID)
	}
}

// All returns a copy of every retained entry, oldest first.
func (l *Logger) All() []Entry {
	return l.filter(func(*Entry) bool { return true })
}

// ByType returns retained entries of the given operation kind.
func (l *Logger) ByType(t OpType) []Entry {
	return l.filter(func(e *Entry) bool { return e.Type == t })
}

// ByStatus returns retained entries in the given lifecycle state.
func (l *Logger) ByStatus(s Status) []Entry {
	return l.filter(func(e *Entry) bool { return e.Status == s })
}

// ByActor returns retained entries originated by the given actor kind.
func (l *Logger) ByActor(a Actor) []Entry {
	return l.filter(func(e *Entry) bool { return e.Actor == a })
}

// Recent returns the n most recent entries, newest first.
func (l *Logger) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, *l.entries[i])
	}
	return out
}

func (l *Logger) filter(keep func(*Entry) bool) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	return out
}

// Stats are aggregate statistics over the retained entries.
type Stats struct {
	Total         int            `json:"total"`
	Success       int            `json:"success"`
	Failed        int            `json:"failed"`
	Pending       int            `json:"pending"`
	SuccessRate   float64        `json:"successRate"`
	ByType        map[OpType]int `json:"byType"`
	ByActor       map[Actor]int  `json:"byActor"`
	AvgDurationMs float64        `json:"avgDurationMs"`
}

// Stats derives aggregate statistics. Total always equals
// Success+Failed+Pending; the average duration covers only entries with a set
// duration; the success rate is computed over completed entries.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Stats{
		ByType:  make(map[OpType]int),
		ByActor: make(map[Actor]int),
	}
	var durSum int64
	var durN int
	for _, e := range l.entries {
		st.Total++
		st.ByType[e.Type]++
		st.ByActor[e.Actor]++
		switch e.Status {
		case StatusSuccess:
			st.Success++
		case StatusFailed:
			st.Failed++
		default:
			st.Pending++
		}
		if e.DurationMs != nil {
			durSum += *e.DurationMs
			durN++
		}
	}
	if completed := st.Success + st.Failed; completed > 0 {
		st.SuccessRate = float64(st.Success) / float64(completed)
	}
	if durN > 0 {
		st.AvgDurationMs = float64(durSum) / float64(durN)
	}
	return st
}

// schedulePersist triggers the write-behind worker. The channel holds at most
// one pending trigger, so bursts of completions coalesce into one snapshot
// write (latest wins) and the write path never blocks on persistence.
func (l *Logger) schedulePersist() {
	if l.store == nil {
		return
	}
	select {
	case l.persistCh <- struct{}{}:
	default:
	}
}

func (l *Logger) persistLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.persistCh:
			l.persistOnce()
		}
	}
}

// persistOnce snapshots the most recent entries and writes them durably.
// Persistence failures never propagate: the logger keeps operating in-memory.
func (l *Logger) persistOnce() {
	l.mu.Lock()
	n := len(l.entries)
	if n > l.opts.SnapshotSize {
		n = l.opts.SnapshotSize
	}
	snap := make([]Entry, 0, n)
	for _, e := range l.entries[len(l.entries)-n:] {
		snap = append(snap, *e)
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, snap); err != nil {
		l.logger.Warn("interaction log snapshot write failed, continuing in-memory",
			zap.Error(err))
	}
}
