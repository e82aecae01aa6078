package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var (
	ErrFloorNotFound = errors.New("collection floor not found")
)

// FloorRepository 集合地板仓储接口
//
// 地板是追加日志: 历史保留，每个集合以最新 created_at 行为权威。
type FloorRepository interface {
	Add(ctx context.Context, floor *model.CollectionFloor) error
	Latest(ctx context.Context, collection string) (*model.CollectionFloor, error)
}

// floorRepository 集合地板仓储实现
type floorRepository struct {
	*Repository
}

// NewFloorRepository 创建地板仓储
func NewFloorRepository(db *gorm.DB) FloorRepository {
	return &floorRepository{
		Repository: NewRepository(db),
	}
}

func (r *floorRepository) Add(ctx context.Context, floor *model.CollectionFloor) error {
	if floor.CreatedAt == 0 {
		floor.CreatedAt = time.Now().UnixMilli()
	}
	return r.DB(ctx).Create(floor).Error
}

func (r *floorRepository) Latest(ctx context.Context, collection string) (*model.CollectionFloor, error) {
	var floor model.CollectionFloor
	err := r.DB(ctx).
		Where("collection = ?", collection).
		Order("created_at DESC, id DESC").
		First(&floor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFloorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &floor, nil
}
