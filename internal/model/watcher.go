package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// WatcherType 订阅类型
type WatcherType string

const (
	WatcherTypeWallet     WatcherType = "wallet"
	WatcherTypeServer     WatcherType = "server"
	WatcherTypeCollection WatcherType = "collection"
)

// StringList JSONB 字符串数组列
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// Contains 集合包含检查
func (l StringList) Contains(s string) bool {
	for _, item := range l {
		if item == s {
			return true
		}
	}
	return false
}

// Settings 通知偏好 (空值回退到账号设置，再回退到全局默认)
type Settings struct {
	MaxOfferFloorDifference *decimal.Decimal `gorm:"column:max_offer_floor_difference;type:decimal(36,18)" json:"max_offer_floor_difference"`
	AllowedMarketplaces     StringList       `gorm:"column:allowed_marketplaces;type:jsonb" json:"allowed_marketplaces"`
	AllowedEvents           StringList       `gorm:"column:allowed_events;type:jsonb" json:"allowed_events"`
}

// Resolve 逐字段回退合并: 自身 -> 账号 -> 全局默认
func (s Settings) Resolve(fallbacks ...Settings) Settings {
	resolved := s
	for _, fb := range fallbacks {
		if resolved.MaxOfferFloorDifference == nil {
			resolved.MaxOfferFloorDifference = fb.MaxOfferFloorDifference
		}
		if resolved.AllowedMarketplaces == nil {
			resolved.AllowedMarketplaces = fb.AllowedMarketplaces
		}
		if resolved.AllowedEvents == nil {
			resolved.AllowedEvents = fb.AllowedEvents
		}
	}
	return resolved
}

// Watcher 订阅 (钱包 / 服务器 / 集合告警)
type Watcher struct {
	ID        int64       `gorm:"primaryKey" json:"id"` // 时间有序 snowflake，由订阅命令方生成
	UserID    string      `gorm:"column:user_id;type:varchar(32);index;not null" json:"user_id"`
	ServerID  string      `gorm:"column:server_id;type:varchar(32)" json:"server_id"`
	Type      WatcherType `gorm:"column:type;type:varchar(12);not null" json:"type"`
	Address   string      `gorm:"column:address;type:varchar(42);index" json:"address"`
	Nickname  string      `gorm:"column:nickname;type:varchar(64)" json:"nickname"`
	Tokens    StringList  `gorm:"column:tokens;type:jsonb" json:"tokens"` // "collection/tokenId"，钱包同步任务定期刷新
	ChannelID string      `gorm:"column:channel_id;type:varchar(32)" json:"channel_id"`
	Settings  Settings    `gorm:"embedded" json:"settings"`
	CreatedAt int64       `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64       `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (Watcher) TableName() string {
	return "watchers"
}

// AccountSettings 账号级默认偏好
type AccountSettings struct {
	UserID    string   `gorm:"column:user_id;type:varchar(32);primaryKey" json:"user_id"`
	Settings  Settings `gorm:"embedded" json:"settings"`
	CreatedAt int64    `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64    `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (AccountSettings) TableName() string {
	return "account_settings"
}

// ShardAssignment 分片到工作实例的映射，自动扩缩容时整体重写
type ShardAssignment struct {
	Shard       int    `gorm:"column:shard;primaryKey" json:"shard"`
	InstanceID  string `gorm:"column:instance_id;type:varchar(64);not null" json:"instance_id"`
	TotalShards int    `gorm:"column:total_shards;not null" json:"total_shards"`
	UpdatedAt   int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (ShardAssignment) TableName() string {
	return "shard_assignments"
}
