package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollectionFloor 集合当前地板挂单 (追加日志，最新 created_at 为权威)
type CollectionFloor struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Collection  string          `gorm:"column:collection;type:varchar(42);index;not null" json:"collection"`
	OrderHash   string          `gorm:"column:order_hash;type:varchar(66)" json:"order_hash"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(36,18);not null;default:0" json:"price"`
	Marketplace Marketplace     `gorm:"column:marketplace;type:varchar(20)" json:"marketplace"`
	CreatedAt   int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	EndsAt      int64           `gorm:"column:ends_at;type:bigint" json:"ends_at"`
}

// TableName 返回表名
func (CollectionFloor) TableName() string {
	return "collection_floors"
}

// IsZero 空哨兵 (集合当前无有效挂单)
func (f *CollectionFloor) IsZero() bool {
	return f == nil || (f.OrderHash == "" && f.Price.IsZero())
}

// Expired 挂单是否已过期
func (f *CollectionFloor) Expired(now time.Time) bool {
	return f.EndsAt > 0 && f.EndsAt < now.UnixMilli()
}

// Offer 当前跟踪的最高出价，主键 (collection, token_id)
//
// token_id 为空串表示集合级出价。行被替换而非追加，只有当前最高出价需要可查。
type Offer struct {
	Collection  string          `gorm:"column:collection;type:varchar(42);primaryKey" json:"collection"`
	TokenID     string          `gorm:"column:token_id;type:varchar(78);primaryKey;default:''" json:"token_id"`
	OrderHash   string          `gorm:"column:order_hash;type:varchar(66)" json:"order_hash"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(36,18);not null;default:0" json:"price"`
	Marketplace Marketplace     `gorm:"column:marketplace;type:varchar(20)" json:"marketplace"`
	EndsAt      int64           `gorm:"column:ends_at;type:bigint" json:"ends_at"`
	CreatedAt   int64           `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (Offer) TableName() string {
	return "offers"
}

// IsZero 空哨兵 (无有效出价)
func (o *Offer) IsZero() bool {
	return o == nil || (o.OrderHash == "" && o.Price.IsZero())
}

// Expired 出价是否已过期
func (o *Offer) Expired(now time.Time) bool {
	return o.EndsAt > 0 && o.EndsAt < now.UnixMilli()
}
