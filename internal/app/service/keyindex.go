package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const dirtyKeySetKey = "mentionrank:counters:dirty"

// dirtyIndex is the contract the aggregator and flusher need from the
// dirty-key index.
type dirtyIndex interface {
	Add(ctx context.Context, keys []string) error
	Drain(ctx context.Context, max int64) ([]string, error)
}

// DirtyKeyIndex tracks counter keys promoted past the durable-write
// threshold since the last flush. It lives in a Redis set so multiple
// worker instances share one index; set adds are naturally merge-safe
// under concurrent writers.
type DirtyKeyIndex struct {
	client *redis.Client
}

// NewDirtyKeyIndex creates the index over the given Redis client.
func NewDirtyKeyIndex(client *redis.Client) *DirtyKeyIndex {
	return &DirtyKeyIndex{client: client}
}

// Add records counter keys pending a durable flush.
func (d *DirtyKeyIndex) Add(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		members[i] = key
	}
	if err := d.client.SAdd(ctx, dirtyKeySetKey, members...).Err(); err != nil {
		return fmt.Errorf("record dirty counter keys: %w", err)
	}
	return nil
}

// Drain atomically removes and returns every recorded key. Keys dirtied
// after the pop land in the next flush cycle.
func (d *DirtyKeyIndex) Drain(ctx context.Context, max int64) ([]string, error) {
	if max <= 0 {
		max = 10000
	}
	keys, err := d.client.SPopN(ctx, dirtyKeySetKey, max).Result()
	if err != nil {
		return nil, fmt.Errorf("drain dirty counter keys: %w", err)
	}
	return keys, nil
}
