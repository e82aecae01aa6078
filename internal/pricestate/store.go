// Package pricestate 维护每个集合的当前地板价和最高报价。
//
// 监听和轮询产出的事件都汇入这里: 入库前盖上采集时刻的地板价
// 与地板差，再按替换规则更新价格状态。数据库仓储是权威存储，
// Redis 镜像只做直写。
package pricestate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/internal/metrics"
	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/internal/repository"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

// OrderBook 强制重算时的订单簿回查操作
type OrderBook interface {
	GetCollectionFloor(ctx context.Context, collection string) (*model.CollectionFloor, error)
	GetBestOffer(ctx context.Context, collection, tokenID string) (*model.Offer, error)
}

// PriceMirror 价格状态的直写镜像 (Redis)。
//
// 冷启动懒加载先读镜像，未命中或出错再回数据库，
// Get 未命中约定返回 (nil, nil)。
type PriceMirror interface {
	SetFloor(ctx context.Context, floor *model.CollectionFloor) error
	SetOffer(ctx context.Context, offer *model.Offer) error
	GetFloor(ctx context.Context, collection string) (*model.CollectionFloor, error)
	GetOffer(ctx context.Context, collection, tokenID string) (*model.Offer, error)
}

// Store 价格状态组件，实现监听/轮询两侧的事件汇入点
type Store struct {
	events repository.EventRepository
	floors repository.FloorRepository
	offers repository.OfferRepository
	mirror PriceMirror
	book   OrderBook

	// mu 保护锁表和状态表本身; 单个集合的状态变更由 locks 里的
	// 集合锁串行化，互不相干的集合并行处理
	mu         sync.Mutex
	locks      map[string]*sync.Mutex
	floorState map[string]*model.CollectionFloor
	offerState map[string]*model.Offer
}

// NewStore 创建价格状态组件
func NewStore(
	events repository.EventRepository,
	floors repository.FloorRepository,
	offers repository.OfferRepository,
	mirror PriceMirror,
	book OrderBook,
) *Store {
	return &Store{
		events:     events,
		floors:     floors,
		offers:     offers,
		mirror:     mirror,
		book:       book,
		locks:      make(map[string]*sync.Mutex),
		floorState: make(map[string]*model.CollectionFloor),
		offerState: make(map[string]*model.Offer),
	}
}

// HandleEvent 处理单个规范化事件。
//
// 先决定价格状态变更再入库: IsHighestOffer 必须落在持久化行上。
// 重复事件返回 ErrDuplicateEvent 且不触碰状态，重放安全。
func (s *Store) HandleEvent(ctx context.Context, event *model.NFTEvent) error {
	lock := s.collectionLock(event.Collection)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	floor := s.currentFloor(ctx, event.Collection)
	event.CollectionFloor = floor.Price
	event.FloorDifference = FloorDifference(event.Price, floor.Price)

	var replaceFloor, replaceOffer bool
	switch event.EventType {
	case model.EventTypeListing:
		replaceFloor = floor.IsZero() || event.Price.LessThan(floor.Price) || floor.Expired(now)
	case model.EventTypeOffer:
		current := s.currentOffer(ctx, event.Collection, derefTokenID(event))
		replaceOffer = current.IsZero() || event.Price.GreaterThan(current.Price) || current.Expired(now)
		event.IsHighestOffer = replaceOffer
	}

	if err := s.events.Add(ctx, event); err != nil {
		return err
	}

	if replaceFloor {
		s.setFloor(ctx, floorFromEvent(event, now))
		metrics.FloorUpdatesTotal.Inc()
	}
	if replaceOffer {
		s.setOffer(ctx, offerFromEvent(event, now))
		metrics.OfferUpdatesTotal.Inc()
	}

	switch event.EventType {
	case model.EventTypeCancelOrder, model.EventTypeAcceptAsk,
		model.EventTypeAcceptOffer, model.EventTypeSettleAuction:
		s.recompute(ctx, event)
	}
	return nil
}

// recompute 撤单或成交命中缓存订单时同步回查订单簿。
//
// 被消耗的订单正是当前地板或最高报价的依据，等下一轮轮询
// 会让价格状态错一个周期，这里立即覆盖或清成零哨兵。
func (s *Store) recompute(ctx context.Context, event *model.NFTEvent) {
	if event.OrderHash == nil || *event.OrderHash == "" {
		return
	}
	hash := *event.OrderHash

	floor := s.currentFloor(ctx, event.Collection)
	if !floor.IsZero() && strings.EqualFold(floor.OrderHash, hash) {
		s.recomputeFloor(ctx, event.Collection)
	}

	tokenID := derefTokenID(event)
	offer := s.currentOffer(ctx, event.Collection, tokenID)
	if !offer.IsZero() && strings.EqualFold(offer.OrderHash, hash) {
		s.recomputeOffer(ctx, event.Collection, tokenID)
	}
}

func (s *Store) recomputeFloor(ctx context.Context, collection string) {
	metrics.PriceRecomputesTotal.WithLabelValues(string(model.OrderTypeAsk)).Inc()

	fresh, err := s.book.GetCollectionFloor(ctx, collection)
	if err != nil {
		logger.Warn("floor recompute query failed",
			zap.String("collection", collection),
			zap.Error(err))
		return
	}
	if fresh.IsZero() {
		fresh = &model.CollectionFloor{Collection: collection}
	}
	fresh.Collection = collection
	s.setFloor(ctx, fresh)
	metrics.FloorUpdatesTotal.Inc()
}

func (s *Store) recomputeOffer(ctx context.Context, collection, tokenID string) {
	metrics.PriceRecomputesTotal.WithLabelValues(string(model.OrderTypeBid)).Inc()

	fresh, err := s.book.GetBestOffer(ctx, collection, tokenID)
	if err != nil {
		logger.Warn("offer recompute query failed",
			zap.String("collection", collection),
			zap.String("token_id", tokenID),
			zap.Error(err))
		return
	}
	if fresh.IsZero() {
		fresh = &model.Offer{Collection: collection, TokenID: tokenID}
	}
	fresh.Collection = collection
	fresh.TokenID = tokenID
	s.setOffer(ctx, fresh)
	metrics.OfferUpdatesTotal.Inc()
}

// currentFloor 返回集合当前地板，冷启动时先读镜像再回数据库
func (s *Store) currentFloor(ctx context.Context, collection string) *model.CollectionFloor {
	s.mu.Lock()
	floor, ok := s.floorState[collection]
	s.mu.Unlock()
	if ok {
		return floor
	}

	floor, mirrorErr := s.mirror.GetFloor(ctx, collection)
	if mirrorErr != nil || floor == nil {
		var err error
		floor, err = s.floors.Latest(ctx, collection)
		if err != nil {
			if !errors.Is(err, repository.ErrFloorNotFound) {
				logger.Warn("floor lookup failed",
					zap.String("collection", collection),
					zap.Error(err))
			}
			floor = &model.CollectionFloor{Collection: collection}
		}
	}

	s.mu.Lock()
	s.floorState[collection] = floor
	s.mu.Unlock()
	return floor
}

// currentOffer 返回当前最高报价，冷启动时先读镜像再回数据库
func (s *Store) currentOffer(ctx context.Context, collection, tokenID string) *model.Offer {
	key := collection + "/" + tokenID

	s.mu.Lock()
	offer, ok := s.offerState[key]
	s.mu.Unlock()
	if ok {
		return offer
	}

	offer, mirrorErr := s.mirror.GetOffer(ctx, collection, tokenID)
	if mirrorErr != nil || offer == nil {
		var err error
		offer, err = s.offers.Get(ctx, collection, tokenID)
		if err != nil {
			if !errors.Is(err, repository.ErrOfferNotFound) {
				logger.Warn("offer lookup failed",
					zap.String("collection", collection),
					zap.String("token_id", tokenID),
					zap.Error(err))
			}
			offer = &model.Offer{Collection: collection, TokenID: tokenID}
		}
	}

	s.mu.Lock()
	s.offerState[key] = offer
	s.mu.Unlock()
	return offer
}

// setFloor 更新地板状态并直写仓储和镜像，写失败只降级
func (s *Store) setFloor(ctx context.Context, floor *model.CollectionFloor) {
	s.mu.Lock()
	s.floorState[floor.Collection] = floor
	s.mu.Unlock()

	if err := s.floors.Add(ctx, floor); err != nil {
		logger.Warn("floor persist failed",
			zap.String("collection", floor.Collection),
			zap.Error(err))
	}
	if err := s.mirror.SetFloor(ctx, floor); err != nil {
		logger.Warn("floor mirror write failed",
			zap.String("collection", floor.Collection),
			zap.Error(err))
	}
}

// setOffer 更新报价状态并直写仓储和镜像，写失败只降级
func (s *Store) setOffer(ctx context.Context, offer *model.Offer) {
	s.mu.Lock()
	s.offerState[offer.Collection+"/"+offer.TokenID] = offer
	s.mu.Unlock()

	if err := s.offers.Set(ctx, offer); err != nil {
		logger.Warn("offer persist failed",
			zap.String("collection", offer.Collection),
			zap.Error(err))
	}
	if err := s.mirror.SetOffer(ctx, offer); err != nil {
		logger.Warn("offer mirror write failed",
			zap.String("collection", offer.Collection),
			zap.Error(err))
	}
}

// collectionLock 返回集合对应的串行化锁
func (s *Store) collectionLock(collection string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[collection] = lock
	}
	return lock
}

// FloorDifference 计算 (price - floor) / floor。
//
// floor 为零时返回 +1 哨兵，price 为零时返回 -1 哨兵，
// 其余裁剪到 ±1e9 保证列可比较。
func FloorDifference(price, floor decimal.Decimal) decimal.Decimal {
	if floor.IsZero() {
		return decimal.NewFromInt(1)
	}
	if price.IsZero() {
		return decimal.NewFromInt(-1)
	}
	diff := price.Sub(floor).Div(floor)
	if diff.GreaterThan(model.FloorDifferenceMax) {
		return model.FloorDifferenceMax
	}
	if diff.LessThan(model.FloorDifferenceMin) {
		return model.FloorDifferenceMin
	}
	return diff
}

func derefTokenID(event *model.NFTEvent) string {
	if event.TokenID == nil {
		return ""
	}
	return *event.TokenID
}

func floorFromEvent(event *model.NFTEvent, now time.Time) *model.CollectionFloor {
	floor := &model.CollectionFloor{
		Collection:  event.Collection,
		Price:       event.Price,
		Marketplace: event.Marketplace,
		CreatedAt:   now.UnixMilli(),
		EndsAt:      event.EndsAt,
	}
	if event.OrderHash != nil {
		floor.OrderHash = *event.OrderHash
	}
	return floor
}

func offerFromEvent(event *model.NFTEvent, now time.Time) *model.Offer {
	offer := &model.Offer{
		Collection:  event.Collection,
		TokenID:     derefTokenID(event),
		Price:       event.Price,
		Marketplace: event.Marketplace,
		CreatedAt:   now.UnixMilli(),
		EndsAt:      event.EndsAt,
	}
	if event.OrderHash != nil {
		offer.OrderHash = *event.OrderHash
	}
	return offer
}
