package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

var (
	ErrPollerAlreadyRunning = errors.New("poller already running")
	ErrPollerNotRunning     = errors.New("poller not running")
)

// OrderBook 订单簿查询操作 (Client 的最小子集)
type OrderBook interface {
	GetCollectionFloor(ctx context.Context, collection string) (*model.CollectionFloor, error)
	GetBestOffer(ctx context.Context, collection, tokenID string) (*model.Offer, error)
	PollEvents(ctx context.Context, feedType, cursor string) ([]FeedEvent, string, error)
}

// EventSink 轮询产出事件的去向 (价格状态组件)
type EventSink interface {
	HandleEvent(ctx context.Context, event *model.NFTEvent) error
}

// Poller 订单簿轮询服务。
//
// 两条循环并行: 地板价/报价批量循环按限速分批刷新每个集合的
// 当前最优订单; 事件 feed 循环按类别游标拉取订单变更。
type Poller struct {
	book        OrderBook
	limiter     *RateLimiter
	collections *CollectionSet
	sink        EventSink

	batchSize         int
	orderPollInterval time.Duration
	eventPollInterval time.Duration

	// 每个 feed 类别的游标和上一轮见过的 id
	cursors map[string]string
	seenIDs map[string]map[string]struct{}

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// PollerConfig 配置
type PollerConfig struct {
	BatchSize         int
	OrderPollInterval time.Duration
	EventPollInterval time.Duration
}

// NewPoller 创建轮询服务
func NewPoller(
	book OrderBook,
	limiter *RateLimiter,
	collections *CollectionSet,
	sink EventSink,
	cfg *PollerConfig,
) *Poller {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 40
	}
	orderPollInterval := cfg.OrderPollInterval
	if orderPollInterval == 0 {
		orderPollInterval = time.Minute
	}
	eventPollInterval := cfg.EventPollInterval
	if eventPollInterval == 0 {
		eventPollInterval = 30 * time.Second
	}

	return &Poller{
		book:              book,
		limiter:           limiter,
		collections:       collections,
		sink:              sink,
		batchSize:         batchSize,
		orderPollInterval: orderPollInterval,
		eventPollInterval: eventPollInterval,
		cursors:           make(map[string]string),
		seenIDs:           make(map[string]map[string]struct{}),
	}
}

// Start 启动两条轮询循环
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerAlreadyRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(2)
	go p.orderLoop(ctx)
	go p.eventLoop(ctx)

	logger.Info("order poller started",
		zap.Int("batch_size", p.batchSize),
		zap.Int("collections", p.collections.Len()))
	return nil
}

// Stop 停止轮询并等待循环退出
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPollerNotRunning
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("order poller stopped")
	return nil
}

// IsRunning 检查是否运行中
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// orderLoop 地板价/报价批量循环，每轮从完整集合重新开始
func (p *Poller) orderLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if p.stopped(ctx) {
			return
		}

		collections := p.collections.Snapshot()
		if len(collections) == 0 {
			if !p.sleep(p.orderPollInterval) {
				return
			}
			continue
		}

		for offset := 0; offset < len(collections); offset += p.batchSize {
			if p.stopped(ctx) {
				return
			}

			end := offset + p.batchSize
			if end > len(collections) {
				end = len(collections)
			}
			batch := collections[offset:end]

			start := time.Now()
			var wg sync.WaitGroup
			for _, collection := range batch {
				wg.Add(1)
				go func(collection string) {
					defer wg.Done()
					p.pollCollection(ctx, collection)
				}(collection)
			}
			wg.Wait()
			elapsed := time.Since(start)

			// 地板和报价各一请求
			if end < len(collections) {
				if !p.sleep(p.limiter.Delay(len(batch)*2, elapsed)) {
					return
				}
			}
		}

		if !p.sleep(p.orderPollInterval) {
			return
		}
	}
}

// pollCollection 刷新单个集合的地板价和集合级报价
func (p *Poller) pollCollection(ctx context.Context, collection string) {
	floor, err := p.book.GetCollectionFloor(ctx, collection)
	if err == nil && !floor.IsZero() {
		p.emit(ctx, listingEventFromFloor(floor))
	}

	offer, err := p.book.GetBestOffer(ctx, collection, "")
	if err == nil && !offer.IsZero() {
		p.emit(ctx, offerEventFromOffer(offer))
	}
}

// eventLoop 订单变更 feed 循环，固定间隔减去已用时长
func (p *Poller) eventLoop(ctx context.Context) {
	defer p.wg.Done()

	feedTypes := []string{FeedTypeList, FeedTypeOffer, FeedTypeCancelList, FeedTypeCancelOffer}

	for {
		if p.stopped(ctx) {
			return
		}

		start := time.Now()
		for _, feedType := range feedTypes {
			p.pollFeed(ctx, feedType)
		}

		delay := p.eventPollInterval - time.Since(start)
		if delay < 0 {
			delay = 0
		}
		if !p.sleep(delay) {
			return
		}
	}
}

// pollFeed 拉取单个类别的 feed 页并发出未见过的有效事件
func (p *Poller) pollFeed(ctx context.Context, feedType string) {
	events, next, err := p.book.PollEvents(ctx, feedType, p.cursors[feedType])
	if err != nil {
		logger.Warn("event feed poll failed",
			zap.String("feed_type", feedType),
			zap.Error(err))
		return
	}

	previous := p.seenIDs[feedType]
	seen := make(map[string]struct{}, len(events))
	now := time.Now()

	for i := range events {
		feedEvent := &events[i]
		seen[feedEvent.ID] = struct{}{}
		if _, ok := previous[feedEvent.ID]; ok {
			continue
		}
		if feedEvent.Order == nil || feedEvent.Order.Expired(now) {
			continue
		}
		p.emit(ctx, eventFromFeed(feedType, feedEvent.Order))
	}

	p.seenIDs[feedType] = seen
	p.cursors[feedType] = next
}

// emit 发往价格状态组件，重复事件在下游按良性吞掉
func (p *Poller) emit(ctx context.Context, event *model.NFTEvent) {
	if event == nil {
		return
	}
	if err := p.sink.HandleEvent(ctx, event); err != nil {
		logger.Warn("polled event rejected",
			zap.String("event_type", string(event.EventType)),
			zap.String("collection", event.Collection),
			zap.Error(err))
	}
}

// stopped 每轮迭代检查一次停止信号
func (p *Poller) stopped(ctx context.Context) bool {
	select {
	case <-p.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep 可被停止信号打断的等待，返回 false 表示需要退出
func (p *Poller) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-p.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// listingEventFromFloor 地板挂单转规范化 listing 事件
func listingEventFromFloor(floor *model.CollectionFloor) *model.NFTEvent {
	orderHash := strings.ToLower(floor.OrderHash)
	return &model.NFTEvent{
		OrderHash:   &orderHash,
		EventType:   model.EventTypeListing,
		Marketplace: floor.Marketplace,
		Blockchain:  model.BlockchainEthereum,
		Collection:  strings.ToLower(floor.Collection),
		Price:       floor.Price,
		Amount:      1,
		EndsAt:      floor.EndsAt,
		OrderType:   model.OrderTypeAsk,
	}
}

// offerEventFromOffer 最高出价转规范化 offer 事件
func offerEventFromOffer(offer *model.Offer) *model.NFTEvent {
	orderHash := strings.ToLower(offer.OrderHash)
	event := &model.NFTEvent{
		OrderHash:   &orderHash,
		EventType:   model.EventTypeOffer,
		Marketplace: offer.Marketplace,
		Blockchain:  model.BlockchainEthereum,
		Collection:  strings.ToLower(offer.Collection),
		Price:       offer.Price,
		Amount:      1,
		EndsAt:      offer.EndsAt,
		OrderType:   model.OrderTypeBid,
	}
	if offer.TokenID != "" {
		tokenID := offer.TokenID
		event.TokenID = &tokenID
	}
	return event
}

// eventFromFeed 订单变更 feed 转规范化事件
func eventFromFeed(feedType string, order *Order) *model.NFTEvent {
	orderHash := strings.ToLower(order.Hash)
	signer := strings.ToLower(order.Signer)

	event := &model.NFTEvent{
		OrderHash:   &orderHash,
		Marketplace: model.MarketplaceLooksRare,
		Blockchain:  model.BlockchainEthereum,
		Collection:  strings.ToLower(order.Collection),
		Price:       order.PriceDecimal(),
		Amount:      order.Amount,
		StartsAt:    order.StartTime * 1000,
		EndsAt:      order.EndTime * 1000,
	}
	if event.Amount <= 0 {
		event.Amount = 1
	}
	if order.TokenID != "" {
		tokenID := order.TokenID
		event.TokenID = &tokenID
	}
	if signer != "" {
		event.Initiator = &signer
	}

	switch feedType {
	case FeedTypeList:
		event.EventType = model.EventTypeListing
		event.OrderType = model.OrderTypeAsk
		event.Seller = event.Initiator
	case FeedTypeOffer:
		event.EventType = model.EventTypeOffer
		event.OrderType = model.OrderTypeBid
		event.Buyer = event.Initiator
	case FeedTypeCancelList:
		event.EventType = model.EventTypeCancelOrder
		event.OrderType = model.OrderTypeAsk
	case FeedTypeCancelOffer:
		event.EventType = model.EventTypeCancelOrder
		event.OrderType = model.OrderTypeBid
	}
	return event
}
