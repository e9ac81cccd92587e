package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/external"
	"github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/parse"
)

// fakeFollower maps raw URLs to final URLs, counting calls.
type fakeFollower struct {
	mu      sync.Mutex
	targets map[string]string
	errs    map[string]error
	calls   int
}

func (f *fakeFollower) Follow(_ context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[rawURL]; ok {
		return "", err
	}
	if final, ok := f.targets[rawURL]; ok {
		return final, nil
	}
	return rawURL, nil
}

var resolverRoots = map[string]string{"http://store.example": "us"}

func newTestResolver(tiers *testTiers, follower *fakeFollower, publisher *recordingPublisher) *LinkResolver {
	return NewLinkResolver(nil, tiers.gateway, follower,
		parse.New(resolverRoots), NewBanListProvider(tiers.gateway), publisher)
}

func mentionBatchMessage(t *testing.T, mentions ...model.MentionCandidate) []byte {
	t.Helper()
	data, err := model.EncodeMessage(model.MentionBatch{ID: "batch", Mentions: mentions})
	if err != nil {
		t.Fatalf("encode mention batch: %v", err)
	}
	return data
}

func seedBanList(t *testing.T, tiers *testTiers, posters, products []string) {
	t.Helper()
	data, err := json.Marshal(&model.BanList{ID: model.BanListID, Posters: posters, Products: products})
	if err != nil {
		t.Fatalf("encode ban list: %v", err)
	}
	tiers.local.data[cache.Key(cache.NSBanList, "global")] = data
}

func TestResolver_ResolvesAndEmitsCounts(t *testing.T) {
	tiers := newTestTiers()
	follower := &fakeFollower{targets: map[string]string{
		"http://bit.ly/abc": "http://store.example/dp/B000123456?ref=xyz",
	}}
	publisher := &recordingPublisher{}
	resolver := newTestResolver(tiers, follower, publisher)

	batch := mentionBatchMessage(t,
		model.MentionCandidate{URL: "http://bit.ly/abc", PosterID: "poster-1"},
		model.MentionCandidate{URL: "http://bit.ly/abc", PosterID: "poster-2"},
	)
	if err := resolver.HandleBatch(context.Background(), batch); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	// One fetch for the deduplicated URL.
	if follower.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", follower.calls)
	}

	if len(publisher.subjects) != 1 || publisher.subjects[0] != model.SubjectCountMentions {
		t.Fatalf("expected one count batch, got %v", publisher.subjects)
	}
	counts := publisher.payloads[0].(model.CountBatch)
	if len(counts.Mentions) != 2 {
		t.Fatalf("expected 2 resolved mentions, got %d", len(counts.Mentions))
	}
	want := "http://store.example/o/ASIN/B000123456"
	for _, mention := range counts.Mentions {
		if mention.ProductRef != want {
			t.Fatalf("product ref = %q, want %q", mention.ProductRef, want)
		}
		if mention.Store != "http://store.example" {
			t.Fatalf("store = %q", mention.Store)
		}
	}

	// The outcome is settled and durable.
	if _, ok := tiers.durable.data[cache.Key(cache.NSLink, "http://bit.ly/abc")]; !ok {
		t.Fatal("expected the resolved link in the durable tier")
	}
}

func TestResolver_CachedLinkSkipsFetch(t *testing.T) {
	tiers := newTestTiers()
	link := &model.ResolvedLink{
		RawURL:     "http://bit.ly/abc",
		FinalURL:   "http://store.example/dp/B000123456",
		Store:      "http://store.example",
		ProductRef: "http://store.example/o/ASIN/B000123456",
		State:      model.LinkProduct,
		ResolvedAt: time.Now(),
	}
	data, _ := json.Marshal(link)
	tiers.local.data[cache.Key(cache.NSLink, link.RawURL)] = data

	follower := &fakeFollower{}
	publisher := &recordingPublisher{}
	resolver := newTestResolver(tiers, follower, publisher)

	batch := mentionBatchMessage(t, model.MentionCandidate{URL: link.RawURL, PosterID: "poster-1"})
	if err := resolver.HandleBatch(context.Background(), batch); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	if follower.calls != 0 {
		t.Fatalf("cached link must not be fetched, got %d calls", follower.calls)
	}
	if len(publisher.subjects) != 1 {
		t.Fatalf("cached product link must still be counted, got %v", publisher.subjects)
	}
}

func TestResolver_BannedPosterDropped(t *testing.T) {
	tiers := newTestTiers()
	seedBanList(t, tiers, []string{"spammer"}, nil)

	follower := &fakeFollower{targets: map[string]string{
		"http://bit.ly/spam": "http://store.example/dp/B000123456",
	}}
	publisher := &recordingPublisher{}
	resolver := newTestResolver(tiers, follower, publisher)

	batch := mentionBatchMessage(t, model.MentionCandidate{URL: "http://bit.ly/spam", PosterID: "spammer"})
	if err := resolver.HandleBatch(context.Background(), batch); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	if follower.calls != 0 {
		t.Fatal("banned poster's URL must not be fetched")
	}
	if len(publisher.subjects) != 0 {
		t.Fatalf("banned poster must produce no counts, got %v", publisher.subjects)
	}
}

func TestResolver_BannedProductNotCounted(t *testing.T) {
	tiers := newTestTiers()
	ref := "http://store.example/o/ASIN/B000123456"
	seedBanList(t, tiers, nil, []string{ref})

	follower := &fakeFollower{targets: map[string]string{
		"http://bit.ly/abc": "http://store.example/dp/B000123456",
	}}
	publisher := &recordingPublisher{}
	resolver := newTestResolver(tiers, follower, publisher)

	batch := mentionBatchMessage(t, model.MentionCandidate{URL: "http://bit.ly/abc", PosterID: "poster-1"})
	if err := resolver.HandleBatch(context.Background(), batch); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	if len(publisher.subjects) != 0 {
		t.Fatalf("banned product must produce no counts, got %v", publisher.subjects)
	}
	// The resolution outcome itself is still cached.
	if _, ok := tiers.durable.data[cache.Key(cache.NSLink, "http://bit.ly/abc")]; !ok {
		t.Fatal("expected the resolved link to be cached despite the ban")
	}
}

func TestResolver_FetchFailureStaysVolatile(t *testing.T) {
	tiers := newTestTiers()
	follower := &fakeFollower{errs: map[string]error{
		"http://bit.ly/down": fmt.Errorf("%w: timeout", external.ErrFetchFailed),
	}}
	publisher := &recordingPublisher{}
	resolver := newTestResolver(tiers, follower, publisher)

	batch := mentionBatchMessage(t, model.MentionCandidate{URL: "http://bit.ly/down", PosterID: "poster-1"})
	if err := resolver.HandleBatch(context.Background(), batch); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	key := cache.Key(cache.NSLink, "http://bit.ly/down")
	if _, ok := tiers.durable.data[key]; ok {
		t.Fatal("unresolved outcome must not reach the durable tier")
	}
	data, ok := tiers.local.data[key]
	if !ok {
		t.Fatal("unresolved outcome must be cached volatile")
	}
	var link model.ResolvedLink
	if err := json.Unmarshal(data, &link); err != nil {
		t.Fatalf("decode link: %v", err)
	}
	if link.State != model.LinkUnresolved {
		t.Fatalf("state = %q, want unresolved", link.State)
	}
	if len(publisher.subjects) != 0 {
		t.Fatal("unresolved URL must produce no counts")
	}
}

func TestResolver_NonProductURLNotCounted(t *testing.T) {
	tiers := newTestTiers()
	follower := &fakeFollower{targets: map[string]string{
		"http://bit.ly/home": "http://store.example/gp/help/contact-us",
	}}
	publisher := &recordingPublisher{}
	resolver := newTestResolver(tiers, follower, publisher)

	batch := mentionBatchMessage(t, model.MentionCandidate{URL: "http://bit.ly/home", PosterID: "poster-1"})
	if err := resolver.HandleBatch(context.Background(), batch); err != nil {
		t.Fatalf("HandleBatch error: %v", err)
	}

	if len(publisher.subjects) != 0 {
		t.Fatal("non-product URL must produce no counts")
	}
	// Settled outcome, cached in the volatile tiers only.
	if _, ok := tiers.durable.data[cache.Key(cache.NSLink, "http://bit.ly/home")]; ok {
		t.Fatal("non-product outcome must not reach the durable tier")
	}
	data, ok := tiers.local.data[cache.Key(cache.NSLink, "http://bit.ly/home")]
	if !ok {
		t.Fatal("expected the non-product outcome in the local tier")
	}
	var link model.ResolvedLink
	if err := json.Unmarshal(data, &link); err != nil {
		t.Fatalf("decode link: %v", err)
	}
	if link.State != model.LinkNonProduct {
		t.Fatalf("state = %q, want non_product", link.State)
	}
}
