package oplog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canopy-network/relayx/pkg/redis"
)

// SnapshotKey is the single well-known key the durable snapshot lives under.
const SnapshotKey = "relayx:oplog:snapshot"

// SnapshotStore persists the most recent entries. Save overwrites the whole
// snapshot; it is a write-behind cache, not a transactional log.
type SnapshotStore interface {
	Save(ctx context.Context, entries []Entry) error
	Load(ctx context.Context) ([]Entry, error)
}

// RedisStore keeps the snapshot as one JSON array under SnapshotKey.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: SnapshotKey}
}

// Save overwrites the snapshot.
func (s *RedisStore) Save(ctx context.Context, entries []Entry) error {
	bz, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key, bz)
}

// Load reads the snapshot. A missing key yields an empty slice. Unknown JSON
// fields are ignored so older relays can read snapshots written by newer
// ones.
func (s *RedisStore) Load(ctx context.Context) ([]Entry, error) {
	bz, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(bz, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return entries, nil
}
