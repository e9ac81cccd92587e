package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/cache"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

// CounterFlusher periodically drains the dirty-key index and rewrites
// those counters from the volatile tiers into Postgres, so hot
// counters keep their durable copy fresh without a durable write per
// increment.
type CounterFlusher struct {
	logger   *zap.Logger
	gateway  *cache.Gateway
	dirty    dirtyIndex
	interval time.Duration
	stopChan chan struct{}
}

// NewCounterFlusher creates a flusher running at the given interval.
func NewCounterFlusher(logger *zap.Logger, gateway *cache.Gateway, dirty dirtyIndex, interval time.Duration) *CounterFlusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CounterFlusher{
		logger:   logger,
		gateway:  gateway,
		dirty:    dirty,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic flushing.
func (f *CounterFlusher) Start() {
	go f.run()
}

// Stop stops the periodic flushing.
func (f *CounterFlusher) Stop() {
	close(f.stopChan)
}

func (f *CounterFlusher) run() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f.Flush(context.Background()); err != nil {
				f.logger.Error("counter flush failed", zap.Error(err))
			}
		case <-f.stopChan:
			f.logger.Info("counter flusher stopped")
			return
		}
	}
}

// Flush drains the index once and writes the counters durably. Keys
// whose volatile entry expired are skipped; the durable tier already
// holds their last promoted value.
func (f *CounterFlusher) Flush(ctx context.Context) error {
	keys, err := f.dirty.Drain(ctx, 0)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = cache.Key(cache.NSCounter, key)
	}

	found, err := f.gateway.Get(ctx, cacheKeys, cache.VolatileTiers)
	if err != nil {
		return err
	}

	entries := make([]cache.Entry, 0, len(found))
	for key, value := range found {
		entries = append(entries, cache.Entry{Key: key, Value: value})
	}
	if len(entries) == 0 {
		return nil
	}

	if err := f.gateway.Put(ctx, entries, []cache.TierID{cache.TierDurable}, 0); err != nil {
		return err
	}

	infraPrometheus.CountersFlushed.Add(float64(len(entries)))
	f.logger.Info("flushed counters to durable store",
		zap.Int("dirty_keys", len(keys)),
		zap.Int("written", len(entries)))
	return nil
}
