package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/repository"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
)

const banScanLimit = 100

// BanSynchronizer periodically folds abuse signals into the ban list:
// posters whose daily mention count crossed the spam threshold, and
// products whose snapshots were tombstoned by enrichment exhaustion.
// Banned counters keep their historical count but drop out of top-N
// queries.
type BanSynchronizer struct {
	logger    *zap.Logger
	counters  repository.CounterRepository
	snapshots repository.SnapshotRepository
	bans      *BanListProvider
	spamLimit int64
}

// NewBanSynchronizer wires the ban sync stage.
func NewBanSynchronizer(logger *zap.Logger, counters repository.CounterRepository,
	snapshots repository.SnapshotRepository, bans *BanListProvider, spamLimit int64) *BanSynchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spamLimit <= 0 {
		spamLimit = 30
	}
	return &BanSynchronizer{
		logger:    logger,
		counters:  counters,
		snapshots: snapshots,
		bans:      bans,
		spamLimit: spamLimit,
	}
}

// HandleSync processes one sync-bans trigger.
func (b *BanSynchronizer) HandleSync(ctx context.Context, _ []byte) error {
	if err := b.banSpammers(ctx); err != nil {
		return err
	}
	return b.banProducts(ctx)
}

func (b *BanSynchronizer) banSpammers(ctx context.Context) error {
	spammers, err := b.counters.SpamPosters(ctx, b.spamLimit, banScanLimit)
	if err != nil {
		return fmt.Errorf("ban sync spam scan: %w", err)
	}
	if len(spammers) == 0 {
		return nil
	}

	keys := make([]string, len(spammers))
	posters := make([]string, len(spammers))
	for i := range spammers {
		keys[i] = spammers[i].SubjectKey
		posters[i] = spammers[i].SubjectRoot
	}

	if err := b.counters.MarkBanned(ctx, keys); err != nil {
		return fmt.Errorf("ban sync mark counters: %w", err)
	}
	if err := b.bans.Merge(ctx, posters, nil); err != nil {
		return err
	}

	infraPrometheus.SubjectsBanned.WithLabelValues(model.SubjectPoster).Add(float64(len(posters)))
	b.logger.Info("banned spamming posters", zap.Strings("posters", posters))
	return nil
}

func (b *BanSynchronizer) banProducts(ctx context.Context) error {
	targets, err := b.snapshots.BanTargets(ctx, banScanLimit)
	if err != nil {
		return fmt.Errorf("ban sync target scan: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	keys := make([]string, len(targets))
	products := make([]string, len(targets))
	for i := range targets {
		keys[i] = targets[i].SubjectKey
		products[i] = targets[i].ProductRef
	}

	// The counter shares the snapshot's composite key, so the same key
	// set bans the matching counters.
	if err := b.counters.MarkBanned(ctx, keys); err != nil {
		return fmt.Errorf("ban sync mark product counters: %w", err)
	}
	if err := b.bans.Merge(ctx, nil, products); err != nil {
		return err
	}
	if err := b.snapshots.MarkBanSynced(ctx, keys); err != nil {
		return fmt.Errorf("ban sync mark snapshots: %w", err)
	}

	infraPrometheus.SubjectsBanned.WithLabelValues(model.SubjectProduct).Add(float64(len(products)))
	b.logger.Info("banned products from tombstoned snapshots",
		zap.Int("count", len(products)))
	return nil
}
