package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var (
	ErrOfferNotFound = errors.New("offer not found")
)

// OfferRepository 最高出价仓储接口
//
// 行按 (collection, token_id) 替换而非追加: 只有当前最高出价需要可查。
type OfferRepository interface {
	Get(ctx context.Context, collection, tokenID string) (*model.Offer, error)
	Set(ctx context.Context, offer *model.Offer) error
}

// offerRepository 最高出价仓储实现
type offerRepository struct {
	*Repository
}

// NewOfferRepository 创建出价仓储
func NewOfferRepository(db *gorm.DB) OfferRepository {
	return &offerRepository{
		Repository: NewRepository(db),
	}
}

func (r *offerRepository) Get(ctx context.Context, collection, tokenID string) (*model.Offer, error) {
	var offer model.Offer
	err := r.DB(ctx).
		Where("collection = ? AND token_id = ?", collection, tokenID).
		First(&offer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *offerRepository) Set(ctx context.Context, offer *model.Offer) error {
	if offer.CreatedAt == 0 {
		offer.CreatedAt = time.Now().UnixMilli()
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "token_id"}},
		UpdateAll: true,
	}).Create(offer).Error
}
