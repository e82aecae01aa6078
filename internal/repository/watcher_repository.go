package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var ErrWatcherNotFound = errors.New("watcher not found")

// WatcherRepository 订阅仓储接口。
//
// 订阅的增删由订阅命令方维护，本服务只读订阅集合并
// 回写钱包持仓。
type WatcherRepository interface {
	GetAll(ctx context.Context) ([]*model.Watcher, error)
	// SetTokens 由钱包同步任务定期调用，刷新钱包当前持有的 token 集合
	SetTokens(ctx context.Context, id int64, tokens model.StringList) error

	GetAccountSettings(ctx context.Context) (map[string]model.Settings, error)
}

// watcherRepository 订阅仓储实现
type watcherRepository struct {
	*Repository
}

// NewWatcherRepository 创建订阅仓储
func NewWatcherRepository(db *gorm.DB) WatcherRepository {
	return &watcherRepository{
		Repository: NewRepository(db),
	}
}

func (r *watcherRepository) GetAll(ctx context.Context) ([]*model.Watcher, error) {
	var watchers []*model.Watcher
	err := r.DB(ctx).Order("id ASC").Find(&watchers).Error
	return watchers, err
}

func (r *watcherRepository) SetTokens(ctx context.Context, id int64, tokens model.StringList) error {
	result := r.DB(ctx).Model(&model.Watcher{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tokens":     tokens,
			"updated_at": time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWatcherNotFound
	}
	return nil
}

func (r *watcherRepository) GetAccountSettings(ctx context.Context) (map[string]model.Settings, error) {
	var rows []*model.AccountSettings
	if err := r.DB(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	settings := make(map[string]model.Settings, len(rows))
	for _, row := range rows {
		settings[row.UserID] = row.Settings
	}
	return settings, nil
}
