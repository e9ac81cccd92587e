package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/model"
)

// DurableBackends assembles the per-namespace backends the durable
// cache tier routes to. Records cross the tier boundary as JSON, the
// same encoding the volatile tiers store.
func DurableBackends(counters CounterRepository, snapshots SnapshotRepository,
	links ResolvedLinkRepository, bans BanListRepository) map[string]cache.Backend {
	return map[string]cache.Backend{
		cache.NSCounter:  &counterBackend{repo: counters},
		cache.NSSnapshot: &snapshotBackend{repo: snapshots},
		cache.NSLink:     &linkBackend{repo: links},
		cache.NSBanList:  &banListBackend{repo: bans},
	}
}

type counterBackend struct {
	repo CounterRepository
}

func (b *counterBackend) Load(ctx context.Context, keys []string) (map[string][]byte, error) {
	counters, err := b.repo.GetByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(counters))
	for i := range counters {
		data, err := json.Marshal(&counters[i])
		if err != nil {
			return nil, fmt.Errorf("marshal counter %s: %w", counters[i].SubjectKey, err)
		}
		result[counters[i].SubjectKey] = data
	}
	return result, nil
}

func (b *counterBackend) Save(ctx context.Context, entries []cache.Entry) error {
	counters := make([]*model.Counter, 0, len(entries))
	for _, entry := range entries {
		var counter model.Counter
		if err := json.Unmarshal(entry.Value, &counter); err != nil {
			return fmt.Errorf("unmarshal counter %s: %w", entry.Key, err)
		}
		counters = append(counters, &counter)
	}
	return b.repo.Upsert(ctx, counters)
}

func (b *counterBackend) Remove(ctx context.Context, keys []string) error {
	return b.repo.DeleteByKeys(ctx, keys)
}

type snapshotBackend struct {
	repo SnapshotRepository
}

func (b *snapshotBackend) Load(ctx context.Context, keys []string) (map[string][]byte, error) {
	snapshots, err := b.repo.GetByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(snapshots))
	for i := range snapshots {
		data, err := json.Marshal(&snapshots[i])
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot %s: %w", snapshots[i].SubjectKey, err)
		}
		result[snapshots[i].SubjectKey] = data
	}
	return result, nil
}

func (b *snapshotBackend) Save(ctx context.Context, entries []cache.Entry) error {
	snapshots := make([]*model.RankingSnapshot, 0, len(entries))
	for _, entry := range entries {
		var snapshot model.RankingSnapshot
		if err := json.Unmarshal(entry.Value, &snapshot); err != nil {
			return fmt.Errorf("unmarshal snapshot %s: %w", entry.Key, err)
		}
		snapshots = append(snapshots, &snapshot)
	}
	return b.repo.Upsert(ctx, snapshots)
}

func (b *snapshotBackend) Remove(ctx context.Context, keys []string) error {
	return b.repo.DeleteByKeys(ctx, keys)
}

type linkBackend struct {
	repo ResolvedLinkRepository
}

func (b *linkBackend) Load(ctx context.Context, keys []string) (map[string][]byte, error) {
	links, err := b.repo.GetByURLs(ctx, keys)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(links))
	for i := range links {
		data, err := json.Marshal(&links[i])
		if err != nil {
			return nil, fmt.Errorf("marshal link %s: %w", links[i].RawURL, err)
		}
		result[links[i].RawURL] = data
	}
	return result, nil
}

func (b *linkBackend) Save(ctx context.Context, entries []cache.Entry) error {
	links := make([]*model.ResolvedLink, 0, len(entries))
	for _, entry := range entries {
		var link model.ResolvedLink
		if err := json.Unmarshal(entry.Value, &link); err != nil {
			return fmt.Errorf("unmarshal link %s: %w", entry.Key, err)
		}
		links = append(links, &link)
	}
	return b.repo.Upsert(ctx, links)
}

func (b *linkBackend) Remove(ctx context.Context, keys []string) error {
	return b.repo.DeleteByURLs(ctx, keys)
}

type banListBackend struct {
	repo BanListRepository
}

func (b *banListBackend) Load(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	list, err := b.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal ban list: %w", err)
	}
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		result[key] = data
	}
	return result, nil
}

func (b *banListBackend) Save(ctx context.Context, entries []cache.Entry) error {
	for _, entry := range entries {
		var list model.BanList
		if err := json.Unmarshal(entry.Value, &list); err != nil {
			return fmt.Errorf("unmarshal ban list: %w", err)
		}
		if err := b.repo.Save(ctx, &list); err != nil {
			return err
		}
	}
	return nil
}

func (b *banListBackend) Remove(ctx context.Context, _ []string) error {
	return nil
}
