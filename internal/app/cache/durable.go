package cache

import (
	"context"
	"fmt"
	"time"
)

// Backend loads and saves serialized records for one key namespace.
// Implemented by the repository layer on top of the real tables.
type Backend interface {
	Load(ctx context.Context, keys []string) (map[string][]byte, error)
	Save(ctx context.Context, entries []Entry) error
	Remove(ctx context.Context, keys []string) error
}

// Durable is the Postgres tier. It routes cache keys by namespace to
// the repository-backed Backend owning that model family.
type Durable struct {
	backends map[string]Backend
}

// NewDurable builds the durable tier over per-namespace backends.
func NewDurable(backends map[string]Backend) *Durable {
	return &Durable{backends: backends}
}

func (d *Durable) ID() TierID { return TierDurable }

func (d *Durable) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	for namespace, group := range d.group(keys) {
		backend, ok := d.backends[namespace]
		if !ok {
			return nil, fmt.Errorf("durable tier: no backend for namespace %q", namespace)
		}
		loaded, err := backend.Load(ctx, group)
		if err != nil {
			return nil, err
		}
		for key, value := range loaded {
			result[Key(namespace, key)] = value
		}
	}
	return result, nil
}

func (d *Durable) Put(ctx context.Context, entries []Entry, _ time.Duration) error {
	grouped := make(map[string][]Entry)
	for _, entry := range entries {
		namespace, key := SplitKey(entry.Key)
		grouped[namespace] = append(grouped[namespace], Entry{Key: key, Value: entry.Value})
	}
	for namespace, group := range grouped {
		backend, ok := d.backends[namespace]
		if !ok {
			return fmt.Errorf("durable tier: no backend for namespace %q", namespace)
		}
		if err := backend.Save(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (d *Durable) Delete(ctx context.Context, keys []string) error {
	for namespace, group := range d.group(keys) {
		backend, ok := d.backends[namespace]
		if !ok {
			return fmt.Errorf("durable tier: no backend for namespace %q", namespace)
		}
		if err := backend.Remove(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (d *Durable) group(keys []string) map[string][]string {
	grouped := make(map[string][]string)
	for _, cacheKey := range keys {
		namespace, key := SplitKey(cacheKey)
		grouped[namespace] = append(grouped[namespace], key)
	}
	return grouped
}
