package repository

import (
	"context"
	"errors"

	"github.com/keremalp/mentionrank/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BanListRepository manages the singleton ban list row.
type BanListRepository interface {
	// Get loads the ban list, returning an empty list when the row has
	// never been written.
	Get(ctx context.Context) (*model.BanList, error)
	Save(ctx context.Context, list *model.BanList) error
}

type banListRepository struct {
	db *gorm.DB
}

// NewBanListRepository returns a GORM-backed BanListRepository.
func NewBanListRepository(db *gorm.DB) BanListRepository {
	return &banListRepository{db: db}
}

func (r *banListRepository) Get(ctx context.Context) (*model.BanList, error) {
	var list model.BanList
	err := r.db.WithContext(ctx).First(&list, model.BanListID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.BanList{ID: model.BanListID}, nil
		}
		return nil, err
	}
	return &list, nil
}

func (r *banListRepository) Save(ctx context.Context, list *model.BanList) error {
	list.ID = model.BanListID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(list).Error
}
