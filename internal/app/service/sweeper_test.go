package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/model"
)

// fakePageDeleter returns canned pages of deleted keys.
type fakePageDeleter struct {
	pages [][]string
	calls int
}

func (f *fakePageDeleter) DeletePage(_ context.Context, _ sweepTable, _ model.SweepTask, _ int) ([]string, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func newTestSweeper(tiers *testTiers, deleter pageDeleter, publisher *recordingPublisher, pageSize int) *RetentionSweeper {
	s := NewRetentionSweeper(nil, nil, tiers.gateway, publisher, pageSize)
	s.deleter = deleter
	return s
}

func sweepMessage(t *testing.T, task model.SweepTask) []byte {
	t.Helper()
	data, err := model.EncodeMessage(task)
	if err != nil {
		t.Fatalf("encode sweep task: %v", err)
	}
	return data
}

func TestSweeper_FullPageContinues(t *testing.T) {
	tiers := newTestTiers()
	page := make([]string, 3)
	for i := range page {
		page[i] = fmt.Sprintf("key-%d", i)
	}
	deleter := &fakePageDeleter{pages: [][]string{page}}
	publisher := &recordingPublisher{}
	sweeper := newTestSweeper(tiers, deleter, publisher, 3)

	task := model.SweepTask{Kind: model.KindCounter, Frequency: model.Daily, Date: time.Now().UTC()}
	if err := sweeper.HandleSweep(context.Background(), sweepMessage(t, task)); err != nil {
		t.Fatalf("HandleSweep error: %v", err)
	}

	if len(publisher.subjects) != 1 || publisher.subjects[0] != model.SubjectSweep {
		t.Fatalf("a full page must re-enqueue the task, got %v", publisher.subjects)
	}
	requeued := publisher.payloads[0].(model.SweepTask)
	if requeued.Kind != task.Kind || requeued.Frequency != task.Frequency {
		t.Fatalf("continuation changed the task: %+v", requeued)
	}
}

func TestSweeper_PartialPageStops(t *testing.T) {
	tiers := newTestTiers()
	deleter := &fakePageDeleter{pages: [][]string{{"key-0"}}}
	publisher := &recordingPublisher{}
	sweeper := newTestSweeper(tiers, deleter, publisher, 3)

	task := model.SweepTask{Kind: model.KindSnapshot, Frequency: model.Weekly, Date: time.Now().UTC()}
	if err := sweeper.HandleSweep(context.Background(), sweepMessage(t, task)); err != nil {
		t.Fatalf("HandleSweep error: %v", err)
	}
	if len(publisher.subjects) != 0 {
		t.Fatalf("a partial page must not re-enqueue, got %v", publisher.subjects)
	}
}

func TestSweeper_EvictsVolatileCopies(t *testing.T) {
	tiers := newTestTiers()
	tiers.local.data[cache.Key(cache.NSCounter, "key-0")] = []byte("stale")
	tiers.redis.data[cache.Key(cache.NSCounter, "key-0")] = []byte("stale")

	deleter := &fakePageDeleter{pages: [][]string{{"key-0"}}}
	sweeper := newTestSweeper(tiers, deleter, &recordingPublisher{}, 3)

	task := model.SweepTask{Kind: model.KindCounter, Frequency: model.Daily, Date: time.Now().UTC()}
	if err := sweeper.HandleSweep(context.Background(), sweepMessage(t, task)); err != nil {
		t.Fatalf("HandleSweep error: %v", err)
	}

	if _, ok := tiers.local.data[cache.Key(cache.NSCounter, "key-0")]; ok {
		t.Fatal("expected the local copy evicted")
	}
	if _, ok := tiers.redis.data[cache.Key(cache.NSCounter, "key-0")]; ok {
		t.Fatal("expected the redis copy evicted")
	}
}

func TestTableFor_KnownKinds(t *testing.T) {
	cases := []struct {
		kind  string
		table string
	}{
		{model.KindCounter, "counters"},
		{model.KindSnapshot, "ranking_snapshots"},
		{model.KindLink, "resolved_links"},
	}
	for _, tc := range cases {
		table, err := tableFor(tc.kind)
		if err != nil {
			t.Fatalf("tableFor(%s) error: %v", tc.kind, err)
		}
		if table.name != tc.table {
			t.Fatalf("tableFor(%s) = %q, want %q", tc.kind, table.name, tc.table)
		}
	}

	if _, err := tableFor("mystery"); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}

func TestSweepScope_PeriodColumns(t *testing.T) {
	date := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)
	counters, _ := tableFor(model.KindCounter)

	daily, args := sweepScope(counters, model.SweepTask{
		Kind: model.KindCounter, Frequency: model.Daily, Date: date,
	})
	if !strings.Contains(daily, "day =") || len(args) != 2 {
		t.Fatalf("daily scope = %q args %v", daily, args)
	}

	weekly, args := sweepScope(counters, model.SweepTask{
		Kind: model.KindCounter, Frequency: model.Weekly, Date: date,
	})
	if !strings.Contains(weekly, "week =") || !strings.Contains(weekly, "year =") || len(args) != 3 {
		t.Fatalf("weekly scope = %q args %v", weekly, args)
	}

	monthly, args := sweepScope(counters, model.SweepTask{
		Kind: model.KindCounter, Frequency: model.Monthly, Date: date,
	})
	if !strings.Contains(monthly, "month =") || len(args) != 3 {
		t.Fatalf("monthly scope = %q args %v", monthly, args)
	}
}

func TestSweepScope_LinksExpireOnAge(t *testing.T) {
	date := time.Date(2026, time.August, 23, 0, 0, 0, 0, time.UTC)
	links, _ := tableFor(model.KindLink)

	where, args := sweepScope(links, model.SweepTask{Kind: model.KindLink, Date: date})
	if where != "resolved_at < $1" {
		t.Fatalf("link scope = %q", where)
	}
	if len(args) != 1 {
		t.Fatalf("args = %v", args)
	}
}

func TestSweepScope_StoreFilter(t *testing.T) {
	counters, _ := tableFor(model.KindCounter)
	where, args := sweepScope(counters, model.SweepTask{
		Kind:      model.KindCounter,
		Frequency: model.Daily,
		Date:      time.Now().UTC(),
		Store:     "http://store.example",
	})
	if !strings.Contains(where, "store = $3") || len(args) != 3 {
		t.Fatalf("scope = %q args %v", where, args)
	}
}
