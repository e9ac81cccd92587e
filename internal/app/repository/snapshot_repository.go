package repository

import (
	"context"
	"errors"

	"github.com/keremalp/mentionrank/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSnapshotNotFound signals that no matching snapshot exists.
var ErrSnapshotNotFound = errors.New("ranking snapshot not found")

// SnapshotRepository defines the data access contract for ranking
// snapshots.
type SnapshotRepository interface {
	GetByKeys(ctx context.Context, keys []string) ([]model.RankingSnapshot, error)
	Upsert(ctx context.Context, snapshots []*model.RankingSnapshot) error
	DeleteByKeys(ctx context.Context, keys []string) error
	// TopForPeriod returns the materialized leaderboard for one store
	// and period, banned tombstones excluded.
	TopForPeriod(ctx context.Context, store string, p model.Period, limit int) ([]model.RankingSnapshot, error)
	// LatestCompleteForProduct finds any complete snapshot of a product
	// whose metadata can seed a new period's snapshot.
	LatestCompleteForProduct(ctx context.Context, productRef string) (*model.RankingSnapshot, error)
	// BanTargets returns tombstoned snapshots not yet folded into the
	// ban list.
	BanTargets(ctx context.Context, limit int) ([]model.RankingSnapshot, error)
	MarkBanSynced(ctx context.Context, keys []string) error
}

type snapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository returns a GORM-backed SnapshotRepository.
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) GetByKeys(ctx context.Context, keys []string) ([]model.RankingSnapshot, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var result []model.RankingSnapshot
	if err := r.db.WithContext(ctx).
		Where("subject_key IN ?", keys).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *snapshotRepository) Upsert(ctx context.Context, snapshots []*model.RankingSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_key"}},
			UpdateAll: true,
		}).
		Create(snapshots).Error
}

func (r *snapshotRepository) DeleteByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("subject_key IN ?", keys).
		Delete(&model.RankingSnapshot{}).Error
}

func (r *snapshotRepository) TopForPeriod(ctx context.Context, store string, p model.Period, limit int) ([]model.RankingSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var result []model.RankingSnapshot
	query := scopePeriod(r.db.WithContext(ctx), p).
		Where("store = ?", store).
		Where("state <> ?", model.SnapshotBanned).
		Order("count DESC").
		Limit(limit)
	if err := query.Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *snapshotRepository) LatestCompleteForProduct(ctx context.Context, productRef string) (*model.RankingSnapshot, error) {
	var snapshot model.RankingSnapshot
	err := r.db.WithContext(ctx).
		Where("product_ref = ?", productRef).
		Where("state = ?", model.SnapshotComplete).
		Order("updated_at DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &snapshot, nil
}

func (r *snapshotRepository) BanTargets(ctx context.Context, limit int) ([]model.RankingSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var result []model.RankingSnapshot
	if err := r.db.WithContext(ctx).
		Where("state = ?", model.SnapshotBanned).
		Where("ban_synced = ?", false).
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *snapshotRepository) MarkBanSynced(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.RankingSnapshot{}).
		Where("subject_key IN ?", keys).
		Update("ban_synced", true).Error
}
