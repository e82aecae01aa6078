package pricestate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/internal/repository"
)

const storeCollection = "0x1111111111111111111111111111111111111111"

type fakeEventRepo struct {
	events []*model.NFTEvent
	addErr error
}

func (f *fakeEventRepo) Add(_ context.Context, event *model.NFTEvent) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventRepo) GetByEventID(_ context.Context, _ string) (*model.NFTEvent, error) {
	return nil, repository.ErrEventNotFound
}

func (f *fakeEventRepo) GetWatchedEvents(_ context.Context, _ time.Time) ([]*model.WatchedEvent, error) {
	return nil, nil
}

type fakeFloorRepo struct {
	latest map[string]*model.CollectionFloor
	added  []*model.CollectionFloor
}

func (f *fakeFloorRepo) Add(_ context.Context, floor *model.CollectionFloor) error {
	f.added = append(f.added, floor)
	f.latest[floor.Collection] = floor
	return nil
}

func (f *fakeFloorRepo) Latest(_ context.Context, collection string) (*model.CollectionFloor, error) {
	floor, ok := f.latest[collection]
	if !ok {
		return nil, repository.ErrFloorNotFound
	}
	return floor, nil
}

type fakeOfferRepo struct {
	offers map[string]*model.Offer
}

func (f *fakeOfferRepo) Get(_ context.Context, collection, tokenID string) (*model.Offer, error) {
	offer, ok := f.offers[collection+"/"+tokenID]
	if !ok {
		return nil, repository.ErrOfferNotFound
	}
	return offer, nil
}

func (f *fakeOfferRepo) Set(_ context.Context, offer *model.Offer) error {
	f.offers[offer.Collection+"/"+offer.TokenID] = offer
	return nil
}

type fakeMirror struct {
	floors      map[string]*model.CollectionFloor
	offers      map[string]*model.Offer
	floorWrites int
	offerWrites int
}

func (f *fakeMirror) SetFloor(_ context.Context, floor *model.CollectionFloor) error {
	f.floorWrites++
	f.floors[floor.Collection] = floor
	return nil
}

func (f *fakeMirror) SetOffer(_ context.Context, offer *model.Offer) error {
	f.offerWrites++
	f.offers[offer.Collection+"/"+offer.TokenID] = offer
	return nil
}

func (f *fakeMirror) GetFloor(_ context.Context, collection string) (*model.CollectionFloor, error) {
	return f.floors[collection], nil
}

func (f *fakeMirror) GetOffer(_ context.Context, collection, tokenID string) (*model.Offer, error) {
	return f.offers[collection+"/"+tokenID], nil
}

type fakeBook struct {
	floor      *model.CollectionFloor
	offer      *model.Offer
	floorCalls int
	offerCalls int
}

func (f *fakeBook) GetCollectionFloor(_ context.Context, _ string) (*model.CollectionFloor, error) {
	f.floorCalls++
	return f.floor, nil
}

func (f *fakeBook) GetBestOffer(_ context.Context, _, _ string) (*model.Offer, error) {
	f.offerCalls++
	return f.offer, nil
}

type storeFixture struct {
	store  *Store
	events *fakeEventRepo
	floors *fakeFloorRepo
	offers *fakeOfferRepo
	mirror *fakeMirror
	book   *fakeBook
}

func newStoreFixture() *storeFixture {
	events := &fakeEventRepo{}
	floors := &fakeFloorRepo{latest: make(map[string]*model.CollectionFloor)}
	offers := &fakeOfferRepo{offers: make(map[string]*model.Offer)}
	mirror := &fakeMirror{
		floors: make(map[string]*model.CollectionFloor),
		offers: make(map[string]*model.Offer),
	}
	book := &fakeBook{}
	return &storeFixture{
		store:  NewStore(events, floors, offers, mirror, book),
		events: events,
		floors: floors,
		offers: offers,
		mirror: mirror,
		book:   book,
	}
}

func listingEvent(orderHash, price string, endOffset time.Duration) *model.NFTEvent {
	txHash := "0x" + orderHash[2:] + "cc"
	return &model.NFTEvent{
		TransactionHash: &txHash,
		OrderHash:       &orderHash,
		EventType:       model.EventTypeListing,
		Marketplace:     model.MarketplaceLooksRare,
		Blockchain:      model.BlockchainEthereum,
		Collection:      storeCollection,
		Price:           decimal.RequireFromString(price),
		Amount:          1,
		EndsAt:          time.Now().Add(endOffset).UnixMilli(),
		OrderType:       model.OrderTypeAsk,
	}
}

func offerEvent(orderHash, tokenID, price string) *model.NFTEvent {
	event := listingEvent(orderHash, price, time.Hour)
	event.EventType = model.EventTypeOffer
	event.OrderType = model.OrderTypeBid
	if tokenID != "" {
		event.TokenID = &tokenID
	}
	return event
}

func saleEvent(eventType model.EventType, orderHash string) *model.NFTEvent {
	event := listingEvent(orderHash, "1", time.Hour)
	event.EventType = eventType
	return event
}

// TestHandleEvent_FirstListingBecomesFloor 空集合的首个挂单成为地板
func TestHandleEvent_FirstListingBecomesFloor(t *testing.T) {
	fx := newStoreFixture()

	event := listingEvent("0xaaa", "1.5", time.Hour)
	require.NoError(t, fx.store.HandleEvent(context.Background(), event))

	floor := fx.store.currentFloor(context.Background(), storeCollection)
	assert.Equal(t, "0xaaa", floor.OrderHash)
	assert.True(t, floor.Price.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 1, fx.mirror.floorWrites)
	require.Len(t, fx.floors.added, 1)

	// 入库行盖的是采集时刻的地板 (还是空)
	require.Len(t, fx.events.events, 1)
	assert.True(t, event.CollectionFloor.IsZero())
	assert.True(t, event.FloorDifference.Equal(decimal.NewFromInt(1)))
}

// TestHandleEvent_FloorReplacementMatrix 地板替换规则
func TestHandleEvent_FloorReplacementMatrix(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xaaa", "1.5", time.Hour)))

	// 更高的挂单不动地板
	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xbbb", "2.0", time.Hour)))
	assert.Equal(t, "0xaaa", fx.store.currentFloor(ctx, storeCollection).OrderHash)

	// 更低的挂单替换地板
	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xccc", "1.2", time.Hour)))
	assert.Equal(t, "0xccc", fx.store.currentFloor(ctx, storeCollection).OrderHash)

	// 高价挂单也盖了采集时刻的地板和地板差
	higher := fx.events.events[1]
	assert.True(t, higher.CollectionFloor.Equal(decimal.RequireFromString("1.5")))
	// (2.0 - 1.5) / 1.5 ≈ 0.333
	assert.True(t, higher.FloorDifference.GreaterThan(decimal.RequireFromString("0.3")))
	assert.True(t, higher.FloorDifference.LessThan(decimal.RequireFromString("0.4")))
}

// TestHandleEvent_ExpiredFloorReplacedByHigherListing 过期地板被任意有效挂单接管
func TestHandleEvent_ExpiredFloorReplacedByHigherListing(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	fx.floors.latest[storeCollection] = &model.CollectionFloor{
		Collection: storeCollection,
		OrderHash:  "0xold",
		Price:      decimal.RequireFromString("0.5"),
		EndsAt:     time.Now().Add(-time.Hour).UnixMilli(),
	}

	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xnew", "3.0", time.Hour)))
	assert.Equal(t, "0xnew", fx.store.currentFloor(ctx, storeCollection).OrderHash)
}

// TestHandleEvent_OfferReplacement 更高出价接管并盖 IsHighestOffer
func TestHandleEvent_OfferReplacement(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	first := offerEvent("0xaaa", "42", "1.0")
	require.NoError(t, fx.store.HandleEvent(ctx, first))
	assert.True(t, first.IsHighestOffer)

	lower := offerEvent("0xbbb", "42", "0.8")
	require.NoError(t, fx.store.HandleEvent(ctx, lower))
	assert.False(t, lower.IsHighestOffer)
	assert.Equal(t, "0xaaa", fx.offers.offers[storeCollection+"/42"].OrderHash)

	higher := offerEvent("0xccc", "42", "1.4")
	require.NoError(t, fx.store.HandleEvent(ctx, higher))
	assert.True(t, higher.IsHighestOffer)
	assert.Equal(t, "0xccc", fx.offers.offers[storeCollection+"/42"].OrderHash)
	assert.Equal(t, 2, fx.mirror.offerWrites)
}

// TestHandleEvent_CollectionOfferSeparateFromTokenOffer 集合级与 token 级报价互不干扰
func TestHandleEvent_CollectionOfferSeparateFromTokenOffer(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	collectionLevel := offerEvent("0xaaa", "", "1.0")
	tokenLevel := offerEvent("0xbbb", "42", "0.5")
	require.NoError(t, fx.store.HandleEvent(ctx, collectionLevel))
	require.NoError(t, fx.store.HandleEvent(ctx, tokenLevel))

	assert.True(t, collectionLevel.IsHighestOffer)
	assert.True(t, tokenLevel.IsHighestOffer)
	assert.Equal(t, "0xaaa", fx.offers.offers[storeCollection+"/"].OrderHash)
	assert.Equal(t, "0xbbb", fx.offers.offers[storeCollection+"/42"].OrderHash)
}

// TestHandleEvent_ColdStartReadsMirrorFirst 冷启动懒加载优先用镜像
func TestHandleEvent_ColdStartReadsMirrorFirst(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	fx.mirror.floors[storeCollection] = &model.CollectionFloor{
		Collection: storeCollection,
		OrderHash:  "0xmirror",
		Price:      decimal.RequireFromString("2.0"),
	}
	fx.floors.latest[storeCollection] = &model.CollectionFloor{
		Collection: storeCollection,
		OrderHash:  "0xstale",
		Price:      decimal.RequireFromString("9.9"),
	}

	event := listingEvent("0xnew", "3.0", time.Hour)
	require.NoError(t, fx.store.HandleEvent(ctx, event))

	// 入库行盖的是镜像里的地板，不是数据库的旧值
	assert.True(t, event.CollectionFloor.Equal(decimal.RequireFromString("2.0")))
	assert.Equal(t, "0xmirror", fx.store.currentFloor(ctx, storeCollection).OrderHash)
}

// TestHandleEvent_ColdStartFallsBackToDatabase 镜像未命中回数据库
func TestHandleEvent_ColdStartFallsBackToDatabase(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	fx.floors.latest[storeCollection] = &model.CollectionFloor{
		Collection: storeCollection,
		OrderHash:  "0xdb",
		Price:      decimal.RequireFromString("1.0"),
	}

	assert.Equal(t, "0xdb", fx.store.currentFloor(ctx, storeCollection).OrderHash)
}

// TestHandleEvent_DuplicateDoesNotMutateState 重复事件不触碰价格状态
func TestHandleEvent_DuplicateDoesNotMutateState(t *testing.T) {
	fx := newStoreFixture()
	fx.events.addErr = repository.ErrDuplicateEvent

	err := fx.store.HandleEvent(context.Background(), listingEvent("0xaaa", "1.5", time.Hour))
	assert.ErrorIs(t, err, repository.ErrDuplicateEvent)
	assert.Empty(t, fx.floors.added)
	assert.Zero(t, fx.mirror.floorWrites)
}

// TestHandleEvent_AcceptAskRecomputesFloor 成交消耗地板订单触发同步回查
func TestHandleEvent_AcceptAskRecomputesFloor(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xaaa", "1.5", time.Hour)))

	fx.book.floor = &model.CollectionFloor{
		Collection: storeCollection,
		OrderHash:  "0xfresh",
		Price:      decimal.RequireFromString("1.8"),
	}

	require.NoError(t, fx.store.HandleEvent(ctx, saleEvent(model.EventTypeAcceptAsk, "0xaaa")))
	assert.Equal(t, 1, fx.book.floorCalls)
	assert.Equal(t, "0xfresh", fx.store.currentFloor(ctx, storeCollection).OrderHash)
}

// TestHandleEvent_RecomputeClearsFloorWhenBookEmpty 订单簿空时清成零哨兵
func TestHandleEvent_RecomputeClearsFloorWhenBookEmpty(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xaaa", "1.5", time.Hour)))
	require.NoError(t, fx.store.HandleEvent(ctx, saleEvent(model.EventTypeCancelOrder, "0xaaa")))

	assert.Equal(t, 1, fx.book.floorCalls)
	assert.True(t, fx.store.currentFloor(ctx, storeCollection).IsZero())
}

// TestHandleEvent_CancelOfferRecomputesOffer 撤销最高出价触发报价回查
func TestHandleEvent_CancelOfferRecomputesOffer(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	require.NoError(t, fx.store.HandleEvent(ctx, offerEvent("0xaaa", "42", "1.0")))

	cancel := saleEvent(model.EventTypeCancelOrder, "0xaaa")
	tokenID := "42"
	cancel.TokenID = &tokenID
	require.NoError(t, fx.store.HandleEvent(ctx, cancel))

	assert.Equal(t, 1, fx.book.offerCalls)
	assert.True(t, fx.store.currentOffer(ctx, storeCollection, "42").IsZero())
}

// TestHandleEvent_UnrelatedHashNoRecompute 非缓存订单的成交不回查
func TestHandleEvent_UnrelatedHashNoRecompute(t *testing.T) {
	fx := newStoreFixture()
	ctx := context.Background()

	require.NoError(t, fx.store.HandleEvent(ctx, listingEvent("0xaaa", "1.5", time.Hour)))
	require.NoError(t, fx.store.HandleEvent(ctx, saleEvent(model.EventTypeAcceptAsk, "0xother")))

	assert.Zero(t, fx.book.floorCalls)
	assert.Zero(t, fx.book.offerCalls)
	assert.Equal(t, "0xaaa", fx.store.currentFloor(ctx, storeCollection).OrderHash)
}

// TestFloorDifference 哨兵和裁剪边界
func TestFloorDifference(t *testing.T) {
	one := decimal.NewFromInt(1)

	// floor 为零返回 +1 哨兵
	assert.True(t, FloorDifference(decimal.NewFromInt(5), decimal.Zero).Equal(one))

	// price 为零返回 -1 哨兵
	assert.True(t, FloorDifference(decimal.Zero, decimal.NewFromInt(5)).Equal(one.Neg()))

	// 常规比例
	diff := FloorDifference(decimal.RequireFromString("1.5"), decimal.RequireFromString("1.0"))
	assert.True(t, diff.Equal(decimal.RequireFromString("0.5")))

	// 巨大比例裁剪到 ±1e9
	huge := FloorDifference(decimal.New(1, 20), decimal.New(1, -10))
	assert.True(t, huge.Equal(model.FloorDifferenceMax))

	low := FloorDifference(decimal.New(-1, 20), decimal.New(1, -10))
	assert.True(t, low.Equal(model.FloorDifferenceMin))
}
