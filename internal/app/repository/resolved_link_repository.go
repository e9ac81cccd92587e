package repository

import (
	"context"

	"github.com/keremalp/mentionrank/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResolvedLinkRepository defines the data access contract for the
// URL resolution cache.
type ResolvedLinkRepository interface {
	GetByURLs(ctx context.Context, urls []string) ([]model.ResolvedLink, error)
	Upsert(ctx context.Context, links []*model.ResolvedLink) error
	DeleteByURLs(ctx context.Context, urls []string) error
}

type resolvedLinkRepository struct {
	db *gorm.DB
}

// NewResolvedLinkRepository returns a GORM-backed ResolvedLinkRepository.
func NewResolvedLinkRepository(db *gorm.DB) ResolvedLinkRepository {
	return &resolvedLinkRepository{db: db}
}

func (r *resolvedLinkRepository) GetByURLs(ctx context.Context, urls []string) ([]model.ResolvedLink, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	var result []model.ResolvedLink
	if err := r.db.WithContext(ctx).
		Where("raw_url IN ?", urls).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *resolvedLinkRepository) Upsert(ctx context.Context, links []*model.ResolvedLink) error {
	if len(links) == 0 {
		return nil
	}
	// Re-resolution overwrites the previous outcome.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "raw_url"}},
			UpdateAll: true,
		}).
		Create(links).Error
}

func (r *resolvedLinkRepository) DeleteByURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("raw_url IN ?", urls).
		Delete(&model.ResolvedLink{}).Error
}
