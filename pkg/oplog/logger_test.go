package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory SnapshotStore for tests. failing makes every Save
// return an error to exercise the best-effort boundary.
type memStore struct {
	mu      sync.Mutex
	saved   [][]Entry
	failing bool
}

func (s *memStore) Save(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("storage unavailable")
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	s.saved = append(s.saved, cp)
	return nil
}

func (s *memStore) Load(context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil, nil
	}
	return s.saved[len(s.saved)-1], nil
}

func (s *memStore) lastSave() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

// TestLogger_StartSuccess covers the basic lifecycle: a started entry turns
// SUCCESS with a non-negative duration set exactly once.
func TestLogger_StartSuccess(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{})
	defer l.Close()

	id, err := l.Start(OpPost, ActorUser, json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	require.NotZero(t, id)

	l.Success(id, "tx-1", "addr-1", json.RawMessage(`{"ok":true}`))

	entries := l.ByStatus(StatusSuccess)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, id, e.ID)
	assert.Equal(t, "tx-1", e.TxHash)
	assert.Equal(t, "addr-1", e.ActorAddress)
	require.NotNil(t, e.DurationMs)
	assert.GreaterOrEqual(t, *e.DurationMs, int64(0))
	require.NotNil(t, e.CompletedAt)
}

// TestLogger_FailureScenario is the LIKE/"network down" scenario.
func TestLogger_FailureScenario(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{})
	defer l.Close()

	id, err := l.Start(OpLike, ActorUser, json.RawMessage(`{"targetId":5}`))
	require.NoError(t, err)
	l.Failure(id, ErrorDetail{Message: "network down"})

	failed := l.ByStatus(StatusFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Error)
	assert.Equal(t, "network down", failed[0].Error.Message)
	require.NotNil(t, failed[0].DurationMs)
	assert.GreaterOrEqual(t, *failed[0].DurationMs, int64(0))
}

// TestLogger_InvalidEnums rejects values outside the closed sets.
func TestLogger_InvalidEnums(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{})
	defer l.Close()

	_, err := l.Start(OpType("DANCE"), ActorUser, nil)
	assert.Error(t, err)
	_, err = l.Start(OpPost, Actor("ROBOT"), nil)
	assert.Error(t, err)
	assert.Empty(t, l.All())
}

// TestLogger_TransitionsAreOneWay: a completed entry never changes again.
func TestLogger_TransitionsAreOneWay(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{})
	defer l.Close()

	id, _ := l.Start(OpTip, ActorUser, nil)
	l.Failure(id, ErrorDetail{Message: "boom"})
	l.Success(id, "tx-x", "addr", nil)

	entries := l.All()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Empty(t, entries[0].TxHash)

	// Unknown ids are ignored outright.
	l.Success(999, "tx-y", "addr", nil)
	assert.Len(t, l.All(), 1)
}

// TestLogger_MonotonicIDs: ids strictly increase even under rapid succession.
func TestLogger_MonotonicIDs(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{Capacity: 1000})
	defer l.Close()

	var prev uint64
	for i := 0; i < 500; i++ {
		id, err := l.Start(OpMessage, ActorServer, nil)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

// TestLogger_RingEviction: the buffer never exceeds capacity and drops the
// oldest entry first.
func TestLogger_RingEviction(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{Capacity: 3})
	defer l.Close()

	var ids []uint64
	for i := 0; i < 5; i++ {
		id, _ := l.Start(OpPost, ActorBatch, nil)
		ids = append(ids, id)
	}

	entries := l.All()
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[4], entries[2].ID)

	// Completing an evicted entry is a no-op, not a resurrection.
	l.Success(ids[0], "tx", "addr", nil)
	assert.Empty(t, l.ByStatus(StatusSuccess))
}

// TestLogger_StatsIdentity: total always equals success+failed+pending, the
// average covers only completed entries.
func TestLogger_StatsIdentity(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{})
	defer l.Close()

	a, _ := l.Start(OpPost, ActorUser, nil)
	b, _ := l.Start(OpLike, ActorUser, nil)
	l.Start(OpMint, ActorServer, nil)

	l.Success(a, "tx-a", "addr", nil)
	l.Failure(b, ErrorDetail{Message: "nope"})

	st := l.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, st.Total, st.Success+st.Failed+st.Pending)
	assert.Equal(t, 1, st.Success)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Pending)
	assert.InDelta(t, 0.5, st.SuccessRate, 0.001)
	assert.Equal(t, 2, st.ByActor[ActorUser])
	assert.Equal(t, 1, st.ByType[OpMint])
	assert.GreaterOrEqual(t, st.AvgDurationMs, 0.0)
}

// TestLogger_Recent returns newest first and caps at the buffer length.
func TestLogger_Recent(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{})
	defer l.Close()

	var ids []uint64
	for i := 0; i < 4; i++ {
		id, _ := l.Start(OpTransfer, ActorUser, nil)
		ids = append(ids, id)
	}

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[3], recent[0].ID)
	assert.Equal(t, ids[2], recent[1].ID)

	assert.Len(t, l.Recent(100), 4)
}

// TestLogger_PersistsSnapshot: completions reach the store, capped at the
// snapshot size, most recent entries only.
func TestLogger_PersistsSnapshot(t *testing.T) {
	store := &memStore{}
	l := NewLogger(zaptest.NewLogger(t), store, Options{Capacity: 10, SnapshotSize: 2})

	a, _ := l.Start(OpPost, ActorUser, nil)
	b, _ := l.Start(OpLike, ActorUser, nil)
	c, _ := l.Start(OpTip, ActorUser, nil)
	l.Success(a, "tx-a", "addr", nil)
	l.Success(b, "tx-b", "addr", nil)
	l.Success(c, "tx-c", "addr", nil)
	l.Close() // flushes the final snapshot

	snap := store.lastSave()
	require.Len(t, snap, 2)
	assert.Equal(t, b, snap[0].ID)
	assert.Equal(t, c, snap[1].ID)
}

// TestLogger_PersistenceFailureIsSwallowed: a broken store never disturbs the
// write path.
func TestLogger_PersistenceFailureIsSwallowed(t *testing.T) {
	store := &memStore{failing: true}
	l := NewLogger(zaptest.NewLogger(t), store, Options{})

	id, err := l.Start(OpPost, ActorUser, nil)
	require.NoError(t, err)
	l.Success(id, "tx", "addr", nil)
	l.Close()

	assert.Len(t, l.ByStatus(StatusSuccess), 1)
}

// TestLogger_Restore seeds the buffer from the snapshot and resumes the id
// counter past the highest restored id.
func TestLogger_Restore(t *testing.T) {
	store := &memStore{}
	first := NewLogger(zaptest.NewLogger(t), store, Options{})
	a, _ := first.Start(OpMint, ActorServer, nil)
	first.Success(a, "tx-a", "addr", nil)
	first.Close()

	second := NewLogger(zaptest.NewLogger(t), store, Options{})
	defer second.Close()
	second.Restore(context.Background())

	restored := second.All()
	require.Len(t, restored, 1)
	assert.Equal(t, a, restored[0].ID)
	assert.Equal(t, StatusSuccess, restored[0].Status)

	next, err := second.Start(OpMint, ActorServer, nil)
	require.NoError(t, err)
	assert.Greater(t, next, a)
}

// TestLogger_ConcurrentWrites hammers the logger from many goroutines; the
// invariants must hold under the single-mutex serialization.
func TestLogger_ConcurrentWrites(t *testing.T) {
	l := NewLogger(zaptest.NewLogger(t), nil, Options{Capacity: 64})
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := l.Start(OpMessage, ActorBatch, nil)
				if err != nil {
					t.Error(err)
					return
				}
				if j%2 == 0 {
					l.Success(id, "tx", "addr", nil)
				} else {
					l.Failure(id, ErrorDetail{Message: "x"})
				}
			}
		}()
	}
	wg.Wait()

	st := l.Stats()
	assert.Equal(t, st.Total, st.Success+st.Failed+st.Pending)
	assert.LessOrEqual(t, st.Total, 64)
	assert.Equal(t, 0, st.Pending)
}

// TestEntry_ForwardCompatibleLoad: snapshots with unknown fields still load.
func TestEntry_ForwardCompatibleLoad(t *testing.T) {
	raw := []byte(`[{"id":7,"type":"POST","actor":"USER","status":"SUCCESS","futureField":{"x":1},"createdAt":"2026-01-02T15:04:05Z"}]`)
	var entries []Entry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(7), entries[0].ID)
	assert.Nil(t, entries[0].DurationMs)
	assert.Equal(t, time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC), entries[0].CreatedAt)
}
