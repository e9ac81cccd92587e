package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeTier is a map-backed tier with overridable behavior.
type fakeTier struct {
	id      TierID
	data    map[string][]byte
	getErr  error
	putErr  error
	getters int
	puts    int
}

func newFakeTier(id TierID) *fakeTier {
	return &fakeTier{id: id, data: make(map[string][]byte)}
}

func (f *fakeTier) ID() TierID { return f.id }

func (f *fakeTier) Get(_ context.Context, keys []string) (map[string][]byte, error) {
	f.getters++
	if f.getErr != nil {
		return nil, f.getErr
	}
	result := make(map[string][]byte)
	for _, key := range keys {
		if value, ok := f.data[key]; ok {
			result[key] = value
		}
	}
	return result, nil
}

func (f *fakeTier) Put(_ context.Context, entries []Entry, _ time.Duration) error {
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	for _, entry := range entries {
		f.data[entry.Key] = entry.Value
	}
	return nil
}

func (f *fakeTier) Delete(_ context.Context, keys []string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func TestGateway_GetPromotesToFasterTiers(t *testing.T) {
	local := newFakeTier(TierLocal)
	redis := newFakeTier(TierRedis)
	durable := newFakeTier(TierDurable)
	durable.data["counter:k1"] = []byte("v1")

	g := NewGateway(nil, local, redis, durable)

	found, err := g.Get(context.Background(), []string{"counter:k1"}, AllTiers)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(found["counter:k1"]) != "v1" {
		t.Fatalf("expected durable hit, got %v", found)
	}
	// Both faster tiers missed; both must now hold the value.
	if string(local.data["counter:k1"]) != "v1" {
		t.Fatal("expected promotion into the local tier")
	}
	if string(redis.data["counter:k1"]) != "v1" {
		t.Fatal("expected promotion into the redis tier")
	}
}

func TestGateway_GetStopsAtFirstHit(t *testing.T) {
	local := newFakeTier(TierLocal)
	local.data["k"] = []byte("fast")
	durable := newFakeTier(TierDurable)
	durable.data["k"] = []byte("slow")

	g := NewGateway(nil, local, newFakeTier(TierRedis), durable)

	found, err := g.Get(context.Background(), []string{"k"}, AllTiers)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(found["k"]) != "fast" {
		t.Fatalf("expected the local value, got %q", found["k"])
	}
	if durable.getters != 0 {
		t.Fatal("durable tier should not be probed after a local hit")
	}
}

func TestGateway_VolatileReadFailureDegradesToMiss(t *testing.T) {
	redis := newFakeTier(TierRedis)
	redis.getErr = errors.New("connection refused")
	durable := newFakeTier(TierDurable)
	durable.data["k"] = []byte("v")

	g := NewGateway(nil, newFakeTier(TierLocal), redis, durable)

	found, err := g.Get(context.Background(), []string{"k"}, AllTiers)
	if err != nil {
		t.Fatalf("expected a broken volatile tier to degrade to a miss, got %v", err)
	}
	if string(found["k"]) != "v" {
		t.Fatal("expected the durable value despite the redis failure")
	}
}

func TestGateway_DurableReadFailurePropagates(t *testing.T) {
	durable := newFakeTier(TierDurable)
	durable.getErr = errors.New("database down")

	g := NewGateway(nil, newFakeTier(TierLocal), newFakeTier(TierRedis), durable)

	if _, err := g.Get(context.Background(), []string{"k"}, AllTiers); err == nil {
		t.Fatal("expected the durable read failure to propagate")
	}
}

func TestGateway_PutReturnsDurableErrorOnly(t *testing.T) {
	local := newFakeTier(TierLocal)
	local.putErr = errors.New("map poisoned")
	durable := newFakeTier(TierDurable)

	g := NewGateway(nil, local, newFakeTier(TierRedis), durable)
	entries := []Entry{{Key: "k", Value: []byte("v")}}

	if err := g.Put(context.Background(), entries, AllTiers, 0); err != nil {
		t.Fatalf("volatile write failure must be swallowed, got %v", err)
	}

	durable.putErr = errors.New("database down")
	if err := g.Put(context.Background(), entries, AllTiers, 0); err == nil {
		t.Fatal("expected the durable write failure to propagate")
	}
}

func TestGateway_UnknownTier(t *testing.T) {
	g := NewGateway(nil, newFakeTier(TierLocal))
	if _, err := g.Get(context.Background(), []string{"k"}, AllTiers); err == nil {
		t.Fatal("expected an unknown tier error")
	}
}

func TestKey_SplitRoundTrip(t *testing.T) {
	cacheKey := Key(NSCounter, "root|daily|2026-08-30")
	ns, key := SplitKey(cacheKey)
	if ns != NSCounter || key != "root|daily|2026-08-30" {
		t.Fatalf("SplitKey(%q) = (%q, %q)", cacheKey, ns, key)
	}
}

func TestLocal_TTLExpiry(t *testing.T) {
	local := NewLocal(time.Minute)
	ctx := context.Background()

	if err := local.Put(ctx, []Entry{{Key: "k", Value: []byte("v")}}, 10*time.Millisecond); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	found, err := local.Get(ctx, []string{"k"})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(found["k"]) != "v" {
		t.Fatal("expected a fresh entry to hit")
	}

	time.Sleep(20 * time.Millisecond)
	found, err = local.Get(ctx, []string{"k"})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if _, ok := found["k"]; ok {
		t.Fatal("expected the entry to expire")
	}
}
