package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/model"
)

const banListCacheKey = "global"

// BanListProvider reads and extends the singleton ban list through the
// cache gateway. Merges are read-merge-write against the durable tier;
// a lost update under race self-heals on the next periodic scan.
type BanListProvider struct {
	gateway *cache.Gateway
}

// NewBanListProvider creates a ban list provider over the gateway.
func NewBanListProvider(gateway *cache.Gateway) *BanListProvider {
	return &BanListProvider{gateway: gateway}
}

// Current returns the ban list from the cheapest tier that has it.
func (b *BanListProvider) Current(ctx context.Context) (*model.BanList, error) {
	key := cache.Key(cache.NSBanList, banListCacheKey)
	found, err := b.gateway.Get(ctx, []string{key}, cache.AllTiers)
	if err != nil {
		return nil, fmt.Errorf("load ban list: %w", err)
	}

	list := &model.BanList{ID: model.BanListID}
	if data, ok := found[key]; ok {
		if err := json.Unmarshal(data, list); err != nil {
			return nil, fmt.Errorf("decode ban list: %w", err)
		}
	}
	return list, nil
}

// Merge unions new banned subjects into the list and writes it back to
// the volatile and durable tiers.
func (b *BanListProvider) Merge(ctx context.Context, posters, products []string) error {
	if len(posters) == 0 && len(products) == 0 {
		return nil
	}

	key := cache.Key(cache.NSBanList, banListCacheKey)
	// Read the durable copy, not a possibly stale cached one.
	found, err := b.gateway.Get(ctx, []string{key}, []cache.TierID{cache.TierDurable})
	if err != nil {
		return fmt.Errorf("load ban list for merge: %w", err)
	}

	list := &model.BanList{ID: model.BanListID}
	if data, ok := found[key]; ok {
		if err := json.Unmarshal(data, list); err != nil {
			return fmt.Errorf("decode ban list: %w", err)
		}
	}

	if !list.Merge(posters, products) {
		return nil
	}

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode ban list: %w", err)
	}
	return b.gateway.Put(ctx, []cache.Entry{{Key: key, Value: data}}, cache.AllTiers, 0)
}
