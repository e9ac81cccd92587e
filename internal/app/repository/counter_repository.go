package repository

import (
	"context"
	"errors"

	"github.com/keremalp/mentionrank/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCounterNotFound signals that the requested counter does not exist.
	ErrCounterNotFound = errors.New("counter not found")
)

// CounterRepository defines the data access contract for mention counters.
type CounterRepository interface {
	GetByKeys(ctx context.Context, keys []string) ([]model.Counter, error)
	Upsert(ctx context.Context, counters []*model.Counter) error
	DeleteByKeys(ctx context.Context, keys []string) error
	// TopProducts returns the highest non-banned product counters for
	// one store and period, ordered by count descending.
	TopProducts(ctx context.Context, store string, p model.Period, limit int) ([]model.Counter, error)
	// SpamPosters returns non-banned poster counters at or above the
	// spam threshold.
	SpamPosters(ctx context.Context, minCount int64, limit int) ([]model.Counter, error)
	MarkBanned(ctx context.Context, keys []string) error
}

type counterRepository struct {
	db *gorm.DB
}

// NewCounterRepository returns a GORM-backed CounterRepository.
func NewCounterRepository(db *gorm.DB) CounterRepository {
	return &counterRepository{db: db}
}

func (r *counterRepository) GetByKeys(ctx context.Context, keys []string) ([]model.Counter, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var result []model.Counter
	if err := r.db.WithContext(ctx).
		Where("subject_key IN ?", keys).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *counterRepository) Upsert(ctx context.Context, counters []*model.Counter) error {
	if len(counters) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_key"}},
			UpdateAll: true,
		}).
		Create(counters).Error
}

func (r *counterRepository) DeleteByKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("subject_key IN ?", keys).
		Delete(&model.Counter{}).Error
}

func (r *counterRepository) TopProducts(ctx context.Context, store string, p model.Period, limit int) ([]model.Counter, error) {
	if limit <= 0 {
		limit = 100
	}
	var result []model.Counter
	query := scopePeriod(r.db.WithContext(ctx), p).
		Where("kind = ?", model.SubjectProduct).
		Where("store = ?", store).
		Where("banned = ?", false).
		Order("count DESC").
		Limit(limit)
	if err := query.Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *counterRepository) SpamPosters(ctx context.Context, minCount int64, limit int) ([]model.Counter, error) {
	if limit <= 0 {
		limit = 100
	}
	var result []model.Counter
	if err := r.db.WithContext(ctx).
		Where("kind = ?", model.SubjectPoster).
		Where("banned = ?", false).
		Where("count >= ?", minCount).
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *counterRepository) MarkBanned(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.Counter{}).
		Where("subject_key IN ?", keys).
		Update("banned", true).Error
}

// scopePeriod narrows a query to one frequency bucket instance.
func scopePeriod(db *gorm.DB, p model.Period) *gorm.DB {
	db = db.Where("frequency = ?", string(p.Frequency))
	switch p.Frequency {
	case model.Daily:
		return db.Where("day = ?", p.Day)
	case model.Weekly:
		return db.Where("week = ? AND year = ?", p.Week, p.Year)
	case model.Monthly:
		return db.Where("month = ? AND year = ?", p.Month, p.Year)
	}
	return db
}
