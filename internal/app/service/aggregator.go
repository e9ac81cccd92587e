package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/model"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

// AggregatorConfig carries the durable-promotion thresholds.
type AggregatorConfig struct {
	ProductMinCount int64
	PosterMinCount  int64
}

// CounterAggregator folds resolved mentions into per-period counters.
// Product mentions hit the daily, weekly and monthly rows; poster
// mentions hit the daily row only. Counters stay volatile-only until
// their count reaches the promotion threshold, bounding durable write
// volume for low-count noise.
//
// Redelivering the same message double-counts; that drift is accepted,
// since exactly-once per genuine mention is the resolver's job via the
// resolved-link cache.
type CounterAggregator struct {
	logger  *zap.Logger
	gateway *cache.Gateway
	dirty   dirtyIndex
	cfg     AggregatorConfig
}

// NewCounterAggregator wires an aggregator stage.
func NewCounterAggregator(logger *zap.Logger, gateway *cache.Gateway, dirty dirtyIndex, cfg AggregatorConfig) *CounterAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProductMinCount <= 0 {
		cfg.ProductMinCount = 5
	}
	if cfg.PosterMinCount <= 0 {
		cfg.PosterMinCount = 15
	}
	return &CounterAggregator{logger: logger, gateway: gateway, dirty: dirty, cfg: cfg}
}

// counterTarget is the accumulated delta for one counter key.
type counterTarget struct {
	root   string
	kind   string
	period model.Period
	store  string
	delta  int64
}

// HandleBatch processes one count-mentions message.
func (a *CounterAggregator) HandleBatch(ctx context.Context, data []byte) error {
	var batch model.CountBatch
	if err := model.DecodeMessage(data, &batch); err != nil {
		a.logger.Warn("dropping malformed count batch", zap.Error(err))
		return nil
	}
	if len(batch.Mentions) == 0 {
		return nil
	}

	date := batch.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	targets := accumulate(batch.Mentions, date)
	counters, err := a.loadCounters(ctx, targets)
	if err != nil {
		return err
	}

	return a.applyAndWrite(ctx, targets, counters)
}

// accumulate folds the batch into one delta per counter key.
func accumulate(mentions []model.ResolvedMention, date time.Time) map[string]*counterTarget {
	targets := make(map[string]*counterTarget)
	bump := func(root, kind, store string, p model.Period) {
		key := model.BuildKey(root, p)
		target, ok := targets[key]
		if !ok {
			target = &counterTarget{root: root, kind: kind, period: p, store: store}
			targets[key] = target
		}
		target.delta++
	}

	periods := model.PeriodsOf(date)
	daily := periods[0]
	for _, mention := range mentions {
		for _, p := range periods {
			bump(mention.ProductRef, model.SubjectProduct, mention.Store, p)
		}
		bump(mention.PosterID, model.SubjectPoster, "", daily)
	}
	return targets
}

func (a *CounterAggregator) loadCounters(ctx context.Context, targets map[string]*counterTarget) (map[string]*model.Counter, error) {
	keys := make([]string, 0, len(targets))
	for key := range targets {
		keys = append(keys, cache.Key(cache.NSCounter, key))
	}

	found, err := a.gateway.Get(ctx, keys, cache.AllTiers)
	if err != nil {
		return nil, fmt.Errorf("aggregator counter read: %w", err)
	}

	counters := make(map[string]*model.Counter, len(found))
	for cacheKey, data := range found {
		_, key := cache.SplitKey(cacheKey)
		var counter model.Counter
		if err := json.Unmarshal(data, &counter); err != nil {
			a.logger.Warn("corrupt counter entry, recreating",
				zap.String("key", key), zap.Error(err))
			continue
		}
		counters[key] = &counter
	}
	return counters, nil
}

func (a *CounterAggregator) applyAndWrite(ctx context.Context, targets map[string]*counterTarget, counters map[string]*model.Counter) error {
	var volatileOnly, promoted []cache.Entry
	var promotedKeys []string

	for key, target := range targets {
		counter, ok := counters[key]
		if !ok {
			counter = model.NewCounter(target.root, target.kind, target.period, target.store)
		}
		if counter.Banned {
			infraPrometheus.MentionsDropped.WithLabelValues("banned_counter").Inc()
			continue
		}
		counter.Count += target.delta

		data, err := json.Marshal(counter)
		if err != nil {
			a.logger.Error("failed to encode counter", zap.String("key", key), zap.Error(err))
			continue
		}
		entry := cache.Entry{Key: cache.Key(cache.NSCounter, key), Value: data}

		if counter.Count >= counter.MinWriteCount(a.cfg.ProductMinCount, a.cfg.PosterMinCount) {
			promoted = append(promoted, entry)
			promotedKeys = append(promotedKeys, key)
		} else {
			volatileOnly = append(volatileOnly, entry)
		}
	}

	if err := a.gateway.Put(ctx, promoted, cache.AllTiers, 0); err != nil {
		return fmt.Errorf("aggregator durable write: %w", err)
	}
	if err := a.gateway.Put(ctx, volatileOnly, cache.VolatileTiers, 0); err != nil {
		return fmt.Errorf("aggregator volatile write: %w", err)
	}

	if len(promotedKeys) > 0 {
		infraPrometheus.CountersPromoted.Add(float64(len(promotedKeys)))
		if err := a.dirty.Add(ctx, promotedKeys); err != nil {
			// The flush job reads the index; losing an entry only delays
			// the durable refresh until the counter is promoted again.
			a.logger.Warn("failed to record dirty counter keys", zap.Error(err))
		}
	}
	return nil
}
