package model

import (
	"github.com/shopspring/decimal"
)

// EventType 事件类型 (规范化后的固定词汇表)
type EventType string

const (
	EventTypeOffer         EventType = "offer"
	EventTypeListing       EventType = "listing"
	EventTypeAcceptOffer   EventType = "acceptOffer"
	EventTypeAcceptAsk     EventType = "acceptAsk"
	EventTypeCancelOrder   EventType = "cancelOrder"
	EventTypeCreateAuction EventType = "createAuction"
	EventTypeSettleAuction EventType = "settleAuction"
	EventTypePlaceBid      EventType = "placeBid"
)

// IsSale 是否为成交事件
func (t EventType) IsSale() bool {
	return t == EventTypeAcceptOffer || t == EventTypeAcceptAsk || t == EventTypeSettleAuction
}

// Marketplace 市场标识
type Marketplace string

const (
	MarketplaceOpenSea    Marketplace = "openSea"
	MarketplaceLooksRare  Marketplace = "looksRare"
	MarketplaceX2Y2       Marketplace = "x2y2"
	MarketplaceFoundation Marketplace = "foundation"
	MarketplaceRarible    Marketplace = "rarible"
)

// AllMarketplaces 当前支持的全部市场
func AllMarketplaces() []Marketplace {
	return []Marketplace{
		MarketplaceOpenSea,
		MarketplaceLooksRare,
		MarketplaceX2Y2,
		MarketplaceFoundation,
		MarketplaceRarible,
	}
}

// Blockchain 链标识
type Blockchain string

const (
	BlockchainEthereum Blockchain = "eth"
)

// Standard 代币标准
type Standard string

const (
	StandardERC721  Standard = "ERC-721"
	StandardERC1155 Standard = "ERC-1155"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeAsk OrderType = "ask"
	OrderTypeBid OrderType = "bid"
)

// FloorDifference 边界值
//
// (price - floor) / floor 在 floor 或 price 为零时无意义，
// 用 ±1 哨兵保持可比较; 其余情况裁剪到 ±1e9。
var (
	FloorDifferenceMax = decimal.NewFromInt(1_000_000_000)
	FloorDifferenceMin = decimal.NewFromInt(-1_000_000_000)
)

// NFTEvent 规范化后的市场活动事件 (不可变事实)
//
// 去重由两个部分唯一索引承担: 链上事件按
// (transaction_hash, event_type, collection, token_id)，
// 订单簿事件按 (order_hash, marketplace, event_type)。
// 重复插入在数据库层被拒，仓储映射为 ErrDuplicateEvent。
type NFTEvent struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID         string          `gorm:"column:event_id;type:varchar(64);uniqueIndex;not null" json:"event_id"`
	TransactionHash *string         `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex:uidx_nft_events_chain,priority:1,where:transaction_hash IS NOT NULL" json:"transaction_hash"`
	OrderHash       *string         `gorm:"column:order_hash;type:varchar(66);uniqueIndex:uidx_nft_events_order,priority:1,where:order_hash IS NOT NULL" json:"order_hash"`
	EventType       EventType       `gorm:"column:event_type;type:varchar(20);index;not null;uniqueIndex:uidx_nft_events_chain,priority:2;uniqueIndex:uidx_nft_events_order,priority:3" json:"event_type"`
	Marketplace     Marketplace     `gorm:"column:marketplace;type:varchar(20);not null;uniqueIndex:uidx_nft_events_order,priority:2" json:"marketplace"`
	Blockchain      Blockchain      `gorm:"column:blockchain;type:varchar(10);not null" json:"blockchain"`
	Collection      string          `gorm:"column:collection;type:varchar(42);index;not null;uniqueIndex:uidx_nft_events_chain,priority:3" json:"collection"`
	TokenID         *string         `gorm:"column:token_id;type:varchar(78);uniqueIndex:uidx_nft_events_chain,priority:4" json:"token_id"`
	Standard        Standard        `gorm:"column:standard;type:varchar(10)" json:"standard"`
	Buyer           *string         `gorm:"column:buyer;type:varchar(42)" json:"buyer"`
	Seller          *string         `gorm:"column:seller;type:varchar(42)" json:"seller"`
	Initiator       *string         `gorm:"column:initiator;type:varchar(42)" json:"initiator"`
	Intermediary    *string         `gorm:"column:intermediary;type:varchar(42)" json:"intermediary"`
	Price           decimal.Decimal `gorm:"column:price;type:decimal(36,18);not null;default:0" json:"price"`
	Gas             decimal.Decimal `gorm:"column:gas;type:decimal(36,18);not null;default:0" json:"gas"`
	Amount          int64           `gorm:"column:amount;type:bigint;not null;default:1" json:"amount"`
	MetadataURI     *string         `gorm:"column:metadata_uri;type:text" json:"metadata_uri"`
	StartsAt        int64           `gorm:"column:starts_at;type:bigint" json:"starts_at"`
	EndsAt          int64           `gorm:"column:ends_at;type:bigint" json:"ends_at"`
	IsHighestOffer  bool            `gorm:"column:is_highest_offer;not null;default:false" json:"is_highest_offer"`
	CollectionFloor decimal.Decimal `gorm:"column:collection_floor;type:decimal(36,18);not null;default:0" json:"collection_floor"`
	FloorDifference decimal.Decimal `gorm:"column:floor_difference;type:decimal(36,18);not null;default:0" json:"floor_difference"`
	OrderType       OrderType       `gorm:"column:order_type;type:varchar(10)" json:"order_type"`
	CreatedAt       int64           `gorm:"column:created_at;type:bigint;index;not null" json:"created_at"`
}

// TableName 返回表名
func (NFTEvent) TableName() string {
	return "nft_events"
}

// HasCorrelationID 事件是否携带可去重的关联标识
//
// 既无交易哈希也无订单哈希的事件无法幂等存储，入库前拒绝。
func (e *NFTEvent) HasCorrelationID() bool {
	return (e.TransactionHash != nil && *e.TransactionHash != "") ||
		(e.OrderHash != nil && *e.OrderHash != "")
}

// TokenKey 返回 watcher tokens 集合使用的 "collection/tokenId" 键
func (e *NFTEvent) TokenKey() string {
	if e.TokenID == nil {
		return e.Collection + "/"
	}
	return e.Collection + "/" + *e.TokenID
}

// WatchedEvent 已匹配 watcher 的事件 (发送给通知投递组件)
type WatchedEvent struct {
	NFTEvent
	Watchers []*Watcher `gorm:"-" json:"watchers"`
}
