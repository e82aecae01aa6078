package notifier

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fpluis/flipance-sub000/internal/model"
)

// 过滤原因，直接做指标 label
const (
	ReasonNotRecent            = "not_recent"
	ReasonStale                = "stale"
	ReasonMarketplace          = "marketplace"
	ReasonEventType            = "event_type"
	ReasonNoCoverage           = "no_coverage"
	ReasonNotHighestOffer      = "not_highest_offer"
	ReasonOfferFloorDifference = "offer_floor_difference"
	ReasonNotSeller            = "not_seller"
)

// FilterConfig 偏好过滤配置
type FilterConfig struct {
	// RecencyWindow 事件入库时间超过该窗口不再投递
	RecencyWindow time.Duration
	// StalenessBound 链上发生时间滞后上限，轮询补录的旧事件不投递
	StalenessBound time.Duration
	// DefaultMaxOfferFloorDifference 低于地板的报价容忍百分比 (全局默认)
	DefaultMaxOfferFloorDifference decimal.Decimal
}

// Filter 按 watcher 偏好判定事件是否投递
type Filter struct {
	recencyWindow  time.Duration
	stalenessBound time.Duration
	defaults       model.Settings
}

// NewFilter 创建过滤器，未显式配置的偏好回退到全局默认
func NewFilter(cfg *FilterConfig) *Filter {
	recencyWindow := cfg.RecencyWindow
	if recencyWindow == 0 {
		recencyWindow = time.Hour
	}
	stalenessBound := cfg.StalenessBound
	if stalenessBound == 0 {
		stalenessBound = 10 * time.Minute
	}

	maxDiff := cfg.DefaultMaxOfferFloorDifference
	if maxDiff.IsZero() {
		maxDiff = decimal.NewFromInt(15)
	}

	marketplaces := make(model.StringList, 0, len(model.AllMarketplaces()))
	for _, m := range model.AllMarketplaces() {
		marketplaces = append(marketplaces, string(m))
	}

	return &Filter{
		recencyWindow:  recencyWindow,
		stalenessBound: stalenessBound,
		defaults: model.Settings{
			MaxOfferFloorDifference: &maxDiff,
			AllowedMarketplaces:     marketplaces,
			AllowedEvents: model.StringList{
				string(model.EventTypeOffer),
				string(model.EventTypeListing),
				string(model.EventTypeAcceptOffer),
				string(model.EventTypeAcceptAsk),
				string(model.EventTypeCancelOrder),
				string(model.EventTypeCreateAuction),
				string(model.EventTypeSettleAuction),
				string(model.EventTypePlaceBid),
			},
		},
	}
}

// Match 判定事件是否投递给该 watcher，拒绝时返回原因。
//
// 偏好逐字段回退: watcher 自身 -> 账号设置 -> 全局默认。
func (f *Filter) Match(event *model.NFTEvent, watcher *model.Watcher, account model.Settings, now time.Time) (bool, string) {
	if event.CreatedAt > 0 && now.UnixMilli()-event.CreatedAt > f.recencyWindow.Milliseconds() {
		return false, ReasonNotRecent
	}
	if event.StartsAt > 0 && now.UnixMilli()-event.StartsAt > f.stalenessBound.Milliseconds() {
		return false, ReasonStale
	}

	settings := watcher.Settings.Resolve(account, f.defaults)
	if !settings.AllowedMarketplaces.Contains(string(event.Marketplace)) {
		return false, ReasonMarketplace
	}
	if !settings.AllowedEvents.Contains(string(event.EventType)) {
		return false, ReasonEventType
	}

	if !f.covers(event, watcher) {
		return false, ReasonNoCoverage
	}

	if event.EventType == model.EventTypeOffer {
		// 只有当前最高出价值得打扰订阅者
		if !event.IsHighestOffer {
			return false, ReasonNotHighestOffer
		}
		if belowFloorTolerance(event.FloorDifference, settings.MaxOfferFloorDifference) {
			return false, ReasonOfferFloorDifference
		}
	}

	// 钱包订阅者只关心自己的挂单，别人的挂单与其无关
	if event.EventType == model.EventTypeListing && watcher.Type == model.WatcherTypeWallet {
		if event.Seller == nil || !strings.EqualFold(watcher.Address, *event.Seller) {
			return false, ReasonNotSeller
		}
	}

	return true, ""
}

// covers watcher 是否覆盖该事件
func (f *Filter) covers(event *model.NFTEvent, watcher *model.Watcher) bool {
	switch watcher.Type {
	case model.WatcherTypeWallet:
		for _, addr := range []*string{event.Buyer, event.Seller, event.Initiator} {
			if addr != nil && strings.EqualFold(watcher.Address, *addr) {
				return true
			}
		}
		return watcher.Tokens.Contains(event.TokenKey())
	default:
		// 集合订阅和服务器频道订阅都按集合地址覆盖
		return strings.EqualFold(watcher.Address, event.Collection)
	}
}

// belowFloorTolerance 报价低于地板超出容忍百分比
//
// FloorDifference 为 (price - floor) / floor，低于地板时为负。
func belowFloorTolerance(floorDifference decimal.Decimal, maxPercent *decimal.Decimal) bool {
	if maxPercent == nil {
		return false
	}
	if !floorDifference.IsNegative() {
		return false
	}
	shortfall := floorDifference.Neg().Mul(decimal.NewFromInt(100))
	return shortfall.GreaterThan(*maxPercent)
}
