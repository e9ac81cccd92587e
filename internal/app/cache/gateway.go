package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Gateway probes tiers in cost order on reads, backfills cheaper tiers
// with values found in slower ones, and fans writes out to every
// requested tier. Volatile write failures are logged and swallowed;
// durable write failures are returned so the stage invocation can be
// redelivered.
type Gateway struct {
	tiers  map[TierID]Tier
	order  []TierID
	logger *zap.Logger
}

// NewGateway assembles a gateway from the given tiers. Tier order on
// reads follows the order tiers are passed in.
func NewGateway(logger *zap.Logger, tiers ...Tier) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		tiers:  make(map[TierID]Tier, len(tiers)),
		logger: logger,
	}
	for _, tier := range tiers {
		g.tiers[tier.ID()] = tier
		g.order = append(g.order, tier.ID())
	}
	return g
}

// Get probes the listed tiers in order and returns the first hit per
// key. Values found in a slower tier are promoted into every faster
// tier that missed.
func (g *Gateway) Get(ctx context.Context, keys []string, tiers []TierID) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	missing := keys
	// Tiers that missed a key, in probe order, for promotion.
	missedBy := make(map[string][]Tier)

	for _, id := range tiers {
		tier, ok := g.tiers[id]
		if !ok {
			return nil, fmt.Errorf("cache gateway: unknown tier %q", id)
		}
		if len(missing) == 0 {
			break
		}

		found, err := tier.Get(ctx, missing)
		if err != nil {
			if id == TierDurable {
				return nil, err
			}
			// A broken volatile tier degrades to a miss.
			g.logger.Warn("cache tier read failed",
				zap.String("tier", string(id)), zap.Error(err))
			found = map[string][]byte{}
		}

		var still []string
		for _, key := range missing {
			value, ok := found[key]
			if !ok {
				still = append(still, key)
				missedBy[key] = append(missedBy[key], tier)
				continue
			}
			result[key] = value
			g.promote(ctx, key, value, missedBy[key])
		}
		missing = still
	}

	return result, nil
}

// Put writes entries to every listed tier in parallel, best-effort for
// volatile tiers. The first durable error is returned.
func (g *Gateway) Put(ctx context.Context, entries []Entry, tiers []TierID, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var durableErr error

	for _, id := range tiers {
		tier, ok := g.tiers[id]
		if !ok {
			return fmt.Errorf("cache gateway: unknown tier %q", id)
		}
		wg.Add(1)
		go func(tier Tier) {
			defer wg.Done()
			if err := tier.Put(ctx, entries, ttl); err != nil {
				if tier.ID() == TierDurable {
					mu.Lock()
					if durableErr == nil {
						durableErr = err
					}
					mu.Unlock()
					return
				}
				g.logger.Warn("cache tier write failed",
					zap.String("tier", string(tier.ID())), zap.Error(err))
			}
		}(tier)
	}
	wg.Wait()

	return durableErr
}

// Delete removes keys from every listed tier. Volatile failures are
// logged; durable failures returned.
func (g *Gateway) Delete(ctx context.Context, keys []string, tiers []TierID) error {
	if len(keys) == 0 {
		return nil
	}

	var durableErr error
	for _, id := range tiers {
		tier, ok := g.tiers[id]
		if !ok {
			return fmt.Errorf("cache gateway: unknown tier %q", id)
		}
		if err := tier.Delete(ctx, keys); err != nil {
			if id == TierDurable {
				durableErr = err
				continue
			}
			g.logger.Warn("cache tier delete failed",
				zap.String("tier", string(id)), zap.Error(err))
		}
	}
	return durableErr
}

func (g *Gateway) promote(ctx context.Context, key string, value []byte, into []Tier) {
	for _, tier := range into {
		if err := tier.Put(ctx, []Entry{{Key: key, Value: value}}, 0); err != nil {
			g.logger.Debug("cache promotion failed",
				zap.String("tier", string(tier.ID())),
				zap.String("key", key), zap.Error(err))
		}
	}
}
