package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/external"
	"github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/repository"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

// DelayedPublisher schedules a payload for later processing.
type DelayedPublisher interface {
	BatchPublisher
	PublishDelayed(ctx context.Context, subject string, payload any, delay time.Duration) error
}

// RendererConfig tunes snapshot materialization.
type RendererConfig struct {
	TopCount   int
	MaxRetries int
	// BackoffBase is the unit of the exponential enrichment backoff.
	BackoffBase time.Duration
	// RateLimitDelay spaces retries after an explicit 429.
	RateLimitDelay time.Duration
}

// RankingRenderer materializes top-N leaderboard snapshots from
// counters and enriches them with external product metadata.
//
// Snapshot state machine: absent → pending → {complete | banned}.
// Pending self-loops on retryable failure up to the ceiling; nothing
// leaves banned.
type RankingRenderer struct {
	logger    *zap.Logger
	gateway   *cache.Gateway
	counters  repository.CounterRepository
	snapshots repository.SnapshotRepository
	metadata  external.MetadataClient
	parser    localeResolver
	publisher DelayedPublisher
	cfg       RendererConfig
}

// localeResolver maps a store root to the metadata API locale.
type localeResolver interface {
	Locale(store string) string
}

// NewRankingRenderer wires a renderer stage.
func NewRankingRenderer(logger *zap.Logger, gateway *cache.Gateway,
	counters repository.CounterRepository, snapshots repository.SnapshotRepository,
	metadata external.MetadataClient, locales localeResolver,
	publisher DelayedPublisher, cfg RendererConfig) *RankingRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopCount <= 0 {
		cfg.TopCount = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 2 * time.Second
	}
	return &RankingRenderer{
		logger:    logger,
		gateway:   gateway,
		counters:  counters,
		snapshots: snapshots,
		metadata:  metadata,
		parser:    locales,
		publisher: publisher,
		cfg:       cfg,
	}
}

// HandleUpdate processes one update-rankings message: it queries the
// top non-banned counters for the scope, refreshes counts on existing
// snapshots, seeds new ones from prior-period metadata when possible,
// and writes the rest as pending with exactly one enrichment fetch
// scheduled. A later run that still finds the snapshot pending only
// refreshes its count; the in-flight chain owns the retries.
func (r *RankingRenderer) HandleUpdate(ctx context.Context, data []byte) error {
	var update model.RankingUpdate
	if err := model.DecodeMessage(data, &update); err != nil {
		r.logger.Warn("dropping malformed ranking update", zap.Error(err))
		return nil
	}

	period, err := model.PeriodOf(update.Frequency, update.Date)
	if err != nil {
		r.logger.Warn("dropping ranking update with unknown frequency",
			zap.String("frequency", string(update.Frequency)))
		return nil
	}

	top, err := r.counters.TopProducts(ctx, update.Store, period, r.cfg.TopCount)
	if err != nil {
		return fmt.Errorf("renderer top query: %w", err)
	}
	if len(top) == 0 {
		return nil
	}

	existing, err := r.loadSnapshots(ctx, top)
	if err != nil {
		return err
	}

	var updated []*model.RankingSnapshot
	for i := range top {
		counter := &top[i]
		snapshot, ok := existing[counter.SubjectKey]
		if ok {
			switch snapshot.State {
			case model.SnapshotBanned:
				// Settled; never retried.
				continue
			case model.SnapshotComplete, model.SnapshotPending:
				// A pending snapshot already has an enrichment chain in
				// flight; only the count moves.
				snapshot.Count = counter.Count
				updated = append(updated, snapshot)
				continue
			}
		}

		seeded, err := r.seedSnapshot(ctx, counter, period)
		if err != nil {
			return err
		}
		if seeded != nil {
			updated = append(updated, seeded)
			continue
		}

		updated = append(updated, model.NewSnapshot(counter.SubjectRoot, counter.Store, period, counter.Count))
		if err := r.scheduleEnrichment(ctx, counter, update, 0); err != nil {
			return err
		}
	}

	return r.writeSnapshots(ctx, updated)
}

// HandleEnrich processes one enrich-ranking-entry message.
func (r *RankingRenderer) HandleEnrich(ctx context.Context, data []byte) error {
	var task model.EnrichTask
	if err := model.DecodeMessage(data, &task); err != nil {
		r.logger.Warn("dropping malformed enrich task", zap.Error(err))
		return nil
	}

	period, err := model.PeriodOf(task.Frequency, task.Date)
	if err != nil {
		r.logger.Warn("dropping enrich task with unknown frequency",
			zap.String("frequency", string(task.Frequency)))
		return nil
	}

	snapshot := model.NewSnapshot(task.ProductRef, task.Store, period, task.Count)
	if current, err := r.loadSnapshot(ctx, snapshot.SubjectKey); err != nil {
		return err
	} else if current != nil {
		if current.State == model.SnapshotBanned {
			// Tombstones are final; a late redelivery must not revive one.
			r.logger.Debug("ignoring enrich task for tombstoned snapshot",
				zap.String("product", task.ProductRef))
			return nil
		}
		current.Count = task.Count
		snapshot = current
	}
	snapshot.Retries = task.Retries

	meta, err := r.metadata.Lookup(ctx, productID(task.ProductRef), r.parser.Locale(task.Store))
	switch {
	case err == nil:
		snapshot.Title = meta.Title
		snapshot.ProductGroup = meta.ProductGroup
		snapshot.Price = meta.Price
		snapshot.ImageSmall = meta.ImageSmall
		snapshot.ImageMedium = meta.ImageMedium
		snapshot.ImageLarge = meta.ImageLarge
		snapshot.Rating = meta.Rating
		snapshot.State = model.SnapshotComplete
		infraPrometheus.SnapshotsEnriched.Inc()

	case errors.Is(err, external.ErrRateLimited):
		// Pacing, not failure: retry without consuming an attempt.
		return r.publisher.PublishDelayed(ctx, model.SubjectEnrichEntry, task, r.cfg.RateLimitDelay)

	default:
		// Hard failure (not-found, malformed response): bounded retries.
		task.Retries++
		if task.Retries < r.cfg.MaxRetries {
			delay := r.cfg.BackoffBase * (1 << (task.Retries - 1))
			r.logger.Info("enrichment failed, retrying",
				zap.String("product", task.ProductRef),
				zap.Int("retries", task.Retries),
				zap.Duration("delay", delay),
				zap.Error(err))
			return r.publisher.PublishDelayed(ctx, model.SubjectEnrichEntry, task, delay)
		}

		// Ceiling exhausted: permanent tombstone, count preserved.
		snapshot.Tombstone()
		infraPrometheus.SnapshotsTombstoned.Inc()
		r.logger.Warn("enrichment exhausted, tombstoning snapshot",
			zap.String("product", task.ProductRef),
			zap.Int64("count", task.Count))
	}

	return r.writeSnapshots(ctx, []*model.RankingSnapshot{snapshot})
}

func (r *RankingRenderer) loadSnapshots(ctx context.Context, counters []model.Counter) (map[string]*model.RankingSnapshot, error) {
	keys := make([]string, len(counters))
	for i := range counters {
		keys[i] = cache.Key(cache.NSSnapshot, counters[i].SubjectKey)
	}
	found, err := r.gateway.Get(ctx, keys, cache.AllTiers)
	if err != nil {
		return nil, fmt.Errorf("renderer snapshot read: %w", err)
	}

	result := make(map[string]*model.RankingSnapshot, len(found))
	for cacheKey, data := range found {
		_, key := cache.SplitKey(cacheKey)
		var snapshot model.RankingSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			r.logger.Warn("corrupt snapshot entry, rebuilding",
				zap.String("key", key), zap.Error(err))
			continue
		}
		result[key] = &snapshot
	}
	return result, nil
}

func (r *RankingRenderer) loadSnapshot(ctx context.Context, subjectKey string) (*model.RankingSnapshot, error) {
	cacheKey := cache.Key(cache.NSSnapshot, subjectKey)
	found, err := r.gateway.Get(ctx, []string{cacheKey}, cache.AllTiers)
	if err != nil {
		return nil, fmt.Errorf("renderer snapshot read: %w", err)
	}
	data, ok := found[cacheKey]
	if !ok {
		return nil, nil
	}
	var snapshot model.RankingSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		r.logger.Warn("corrupt snapshot entry, rebuilding",
			zap.String("key", subjectKey), zap.Error(err))
		return nil, nil
	}
	return &snapshot, nil
}

// seedSnapshot builds a snapshot without an external fetch when a
// complete snapshot of the same product exists for another period.
func (r *RankingRenderer) seedSnapshot(ctx context.Context, counter *model.Counter, p model.Period) (*model.RankingSnapshot, error) {
	source, err := r.snapshots.LatestCompleteForProduct(ctx, counter.SubjectRoot)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("renderer seed lookup: %w", err)
	}

	snapshot := model.NewSnapshot(counter.SubjectRoot, counter.Store, p, counter.Count)
	snapshot.CopyMetadata(source)
	return snapshot, nil
}

func (r *RankingRenderer) scheduleEnrichment(ctx context.Context, counter *model.Counter, update model.RankingUpdate, retries int) error {
	return r.publisher.Publish(ctx, model.SubjectEnrichEntry, model.EnrichTask{
		ProductRef: counter.SubjectRoot,
		Store:      counter.Store,
		Frequency:  update.Frequency,
		Date:       update.Date,
		Count:      counter.Count,
		Retries:    retries,
	})
}

func (r *RankingRenderer) writeSnapshots(ctx context.Context, snapshots []*model.RankingSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	entries := make([]cache.Entry, 0, len(snapshots))
	for _, snapshot := range snapshots {
		data, err := json.Marshal(snapshot)
		if err != nil {
			r.logger.Error("failed to encode snapshot",
				zap.String("key", snapshot.SubjectKey), zap.Error(err))
			continue
		}
		entries = append(entries, cache.Entry{
			Key:   cache.Key(cache.NSSnapshot, snapshot.SubjectKey),
			Value: data,
		})
	}
	if err := r.gateway.Put(ctx, entries, cache.AllTiers, 0); err != nil {
		return fmt.Errorf("renderer snapshot write: %w", err)
	}
	return nil
}

// productID extracts the trailing id segment of a canonical product
// reference ("<root>/o/ASIN/<id>").
func productID(productRef string) string {
	for i := len(productRef) - 1; i >= 0; i-- {
		if productRef[i] == '/' {
			return productRef[i+1:]
		}
	}
	return productRef
}
