// Package cache implements the tiered read-through/write-through
// gateway every persistent pipeline entity goes through. Tiers are
// consulted in cost order: in-process map, Redis, Postgres.
package cache

import (
	"context"
	"time"
)

// TierID names a storage tier.
type TierID string

const (
	// TierLocal is the in-process volatile cache.
	TierLocal TierID = "local"
	// TierRedis is the shared volatile cache.
	TierRedis TierID = "redis"
	// TierDurable is the Postgres-backed durable store.
	TierDurable TierID = "durable"
)

// Common tier orderings.
var (
	AllTiers      = []TierID{TierLocal, TierRedis, TierDurable}
	VolatileTiers = []TierID{TierLocal, TierRedis}
)

// Entry is one serialized record addressed by its cache key.
type Entry struct {
	Key   string
	Value []byte
}

// Tier is a batched point get/put/delete store. Get omits absent keys
// from the result map.
type Tier interface {
	ID() TierID
	Get(ctx context.Context, keys []string) (map[string][]byte, error)
	Put(ctx context.Context, entries []Entry, ttl time.Duration) error
	Delete(ctx context.Context, keys []string) error
}

// Cache key namespaces. The durable tier routes on the namespace to
// find the backing table.
const (
	NSCounter  = "counter"
	NSSnapshot = "snapshot"
	NSLink     = "link"
	NSBanList  = "banlist"
)

const nsSeparator = ":"

// Key prefixes a model key with its namespace.
func Key(namespace, key string) string {
	return namespace + nsSeparator + key
}

// SplitKey separates a cache key into namespace and model key.
func SplitKey(cacheKey string) (namespace, key string) {
	for i := 0; i < len(cacheKey); i++ {
		if cacheKey[i] == ':' {
			return cacheKey[:i], cacheKey[i+1:]
		}
	}
	return cacheKey, ""
}
