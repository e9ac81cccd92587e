package cache

import (
	"context"
	"sync"
	"time"
)

const localSweepThreshold = 4096

// Local is the in-process tier: a mutex-guarded map with lazy TTL
// expiry. Entries are evicted on read when expired; a full sweep runs
// when the map grows past a threshold.
type Local struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	ttl     time.Duration
}

type localEntry struct {
	value   []byte
	expires time.Time
}

// NewLocal builds the in-process tier with a default TTL applied when
// a put passes no TTL.
func NewLocal(defaultTTL time.Duration) *Local {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Local{
		entries: make(map[string]localEntry),
		ttl:     defaultTTL,
	}
}

func (l *Local) ID() TierID { return TierLocal }

func (l *Local) Get(_ context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	result := make(map[string][]byte, len(keys))

	l.mu.RLock()
	var expired []string
	for _, key := range keys {
		entry, ok := l.entries[key]
		if !ok {
			continue
		}
		if now.After(entry.expires) {
			expired = append(expired, key)
			continue
		}
		result[key] = entry.value
	}
	l.mu.RUnlock()

	if len(expired) > 0 {
		l.mu.Lock()
		for _, key := range expired {
			if entry, ok := l.entries[key]; ok && now.After(entry.expires) {
				delete(l.entries, key)
			}
		}
		l.mu.Unlock()
	}

	return result, nil
}

func (l *Local) Put(_ context.Context, entries []Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.ttl
	}
	expires := time.Now().Add(ttl)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range entries {
		l.entries[entry.Key] = localEntry{value: entry.Value, expires: expires}
	}
	if len(l.entries) > localSweepThreshold {
		l.sweepLocked()
	}
	return nil
}

func (l *Local) Delete(_ context.Context, keys []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		delete(l.entries, key)
	}
	return nil
}

func (l *Local) sweepLocked() {
	now := time.Now()
	for key, entry := range l.entries {
		if now.After(entry.expires) {
			delete(l.entries, key)
		}
	}
}
