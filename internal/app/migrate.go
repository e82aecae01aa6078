package app

import (
	"gorm.io/gorm"

	"github.com/fpluis/flipance-sub000/internal/model"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.NFTEvent{},
		&model.CollectionFloor{},
		&model.Offer{},
		&model.Watcher{},
		&model.AccountSettings{},
		&model.ShardAssignment{},
	)
}
