package service

import (
	"context"
	"testing"
	"time"

	"github.com/keremalp/mentionrank/internal/app/model"
)

func TestBanSync_BansSpammingPosters(t *testing.T) {
	tiers := newTestTiers()
	bans := NewBanListProvider(tiers.gateway)

	daily, _ := model.PeriodOf(model.Daily, time.Now().UTC())
	spammer := model.NewCounter("spammer-1", model.SubjectPoster, daily, "")
	spammer.Count = 31

	var bannedKeys []string
	counters := &mockCounterRepo{
		spamPostersFn: func(_ context.Context, minCount int64, _ int) ([]model.Counter, error) {
			if minCount != 30 {
				t.Fatalf("spam threshold = %d, want 30", minCount)
			}
			return []model.Counter{*spammer}, nil
		},
		markBannedFn: func(_ context.Context, keys []string) error {
			bannedKeys = append(bannedKeys, keys...)
			return nil
		},
	}

	sync := NewBanSynchronizer(nil, counters, &mockSnapshotRepo{}, bans, 30)
	if err := sync.HandleSync(context.Background(), nil); err != nil {
		t.Fatalf("HandleSync error: %v", err)
	}

	if len(bannedKeys) != 1 || bannedKeys[0] != spammer.SubjectKey {
		t.Fatalf("expected the spammer's counter banned, got %v", bannedKeys)
	}

	list, err := bans.Current(context.Background())
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if !list.HasPoster("spammer-1") {
		t.Fatal("expected spammer-1 in the ban list")
	}
}

func TestBanSync_FoldsTombstonedProducts(t *testing.T) {
	tiers := newTestTiers()
	bans := NewBanListProvider(tiers.gateway)

	daily, _ := model.PeriodOf(model.Daily, time.Now().UTC())
	ref := "http://store.example/o/ASIN/BANNED0001"
	tombstone := model.NewSnapshot(ref, "http://store.example", daily, 12)
	tombstone.Tombstone()

	var bannedKeys, syncedKeys []string
	counters := &mockCounterRepo{
		markBannedFn: func(_ context.Context, keys []string) error {
			bannedKeys = append(bannedKeys, keys...)
			return nil
		},
	}
	snapshots := &mockSnapshotRepo{
		banTargetsFn: func(context.Context, int) ([]model.RankingSnapshot, error) {
			return []model.RankingSnapshot{*tombstone}, nil
		},
		markBanSyncedFn: func(_ context.Context, keys []string) error {
			syncedKeys = append(syncedKeys, keys...)
			return nil
		},
	}

	sync := NewBanSynchronizer(nil, counters, snapshots, bans, 30)
	if err := sync.HandleSync(context.Background(), nil); err != nil {
		t.Fatalf("HandleSync error: %v", err)
	}

	// The counter shares the snapshot key, so the same key is banned.
	if len(bannedKeys) != 1 || bannedKeys[0] != tombstone.SubjectKey {
		t.Fatalf("expected the matching counter banned, got %v", bannedKeys)
	}
	if len(syncedKeys) != 1 || syncedKeys[0] != tombstone.SubjectKey {
		t.Fatalf("expected the snapshot marked synced, got %v", syncedKeys)
	}

	list, err := bans.Current(context.Background())
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if !list.HasProduct(ref) {
		t.Fatal("expected the product in the ban list")
	}
}

func TestBanSync_NothingToDo(t *testing.T) {
	tiers := newTestTiers()
	sync := NewBanSynchronizer(nil, &mockCounterRepo{}, &mockSnapshotRepo{},
		NewBanListProvider(tiers.gateway), 30)
	if err := sync.HandleSync(context.Background(), nil); err != nil {
		t.Fatalf("HandleSync error: %v", err)
	}
	if len(tiers.durable.data) != 0 {
		t.Fatalf("no writes expected, got %v", tiers.durable.data)
	}
}
