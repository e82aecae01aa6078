package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var (
	ErrShardAssignmentNotFound = errors.New("shard assignment not found")
)

// ShardRepository 分片分配仓储接口
//
// 自动扩缩容组件在调整 worker 副本数时整体重写分配表。
type ShardRepository interface {
	ReplaceAll(ctx context.Context, assignments []*model.ShardAssignment) error
	GetAll(ctx context.Context) ([]*model.ShardAssignment, error)
	GetByInstanceID(ctx context.Context, instanceID string) (*model.ShardAssignment, error)
}

// shardRepository 分片分配仓储实现
type shardRepository struct {
	*Repository
}

// NewShardRepository 创建分片仓储
func NewShardRepository(db *gorm.DB) ShardRepository {
	return &shardRepository{
		Repository: NewRepository(db),
	}
}

func (r *shardRepository) ReplaceAll(ctx context.Context, assignments []*model.ShardAssignment) error {
	now := time.Now().UnixMilli()
	return r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.DB(ctx).Where("1 = 1").Delete(&model.ShardAssignment{}).Error; err != nil {
			return err
		}
		for _, a := range assignments {
			a.UpdatedAt = now
		}
		if len(assignments) == 0 {
			return nil
		}
		return r.DB(ctx).Create(assignments).Error
	})
}

func (r *shardRepository) GetAll(ctx context.Context) ([]*model.ShardAssignment, error) {
	var assignments []*model.ShardAssignment
	err := r.DB(ctx).Order("shard ASC").Find(&assignments).Error
	return assignments, err
}

func (r *shardRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.ShardAssignment, error) {
	var assignment model.ShardAssignment
	err := r.DB(ctx).Where("instance_id = ?", instanceID).First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShardAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}
