package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpluis/flipance-sub000/internal/model"
)

type fakeEventSource struct {
	mu     sync.Mutex
	events []*model.WatchedEvent
	calls  int
}

func (f *fakeEventSource) GetWatchedEvents(_ context.Context, _ time.Time) ([]*model.WatchedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.events, nil
}

type fakeAccountSource struct {
	settings map[string]model.Settings
}

func (f *fakeAccountSource) GetAccountSettings(_ context.Context) (map[string]model.Settings, error) {
	return f.settings, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[int][]*model.WatchedEvent
	err       error
}

func (f *fakePublisher) PublishWatchedEvent(_ context.Context, shard int, event *model.WatchedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[int][]*model.WatchedEvent)
	}
	f.published[shard] = append(f.published[shard], event)
	return nil
}

func watchedEvent(watchers ...*model.Watcher) *model.WatchedEvent {
	now := time.Now().UnixMilli()
	return &model.WatchedEvent{
		NFTEvent: model.NFTEvent{
			EventID:     "evt-1",
			EventType:   model.EventTypeAcceptAsk,
			Marketplace: model.MarketplaceLooksRare,
			Blockchain:  model.BlockchainEthereum,
			Collection:  filterCollection,
			Price:       decimal.RequireFromString("1.5"),
			StartsAt:    now,
			CreatedAt:   now,
		},
		Watchers: watchers,
	}
}

func newTestDispatcher(events *fakeEventSource, publisher *fakePublisher, totalShards int) *Dispatcher {
	return NewDispatcher(
		events,
		&fakeAccountSource{},
		publisher,
		NewFilter(&FilterConfig{}),
		&DispatcherConfig{TotalShards: totalShards, PollInterval: 10 * time.Millisecond},
	)
}

// TestDispatchEvent_PartitionsByShard 幸存 watcher 按分片归组发布
func TestDispatchEvent_PartitionsByShard(t *testing.T) {
	// id 的 22 位以上部分决定分片: 1<<22 -> 分片 1, 2<<22 -> 分片 2
	w1 := collectionWatcher()
	w1.ID = 1 << 22
	w2 := collectionWatcher()
	w2.ID = 2 << 22
	w3 := collectionWatcher()
	w3.ID = (1 << 22) * 11 // 11 % 10 == 1，和 w1 同分片

	publisher := &fakePublisher{}
	d := newTestDispatcher(&fakeEventSource{}, publisher, 10)

	d.dispatchEvent(context.Background(), watchedEvent(w1, w2, w3), nil)

	require.Len(t, publisher.published, 2)
	require.Len(t, publisher.published[1], 1)
	assert.Len(t, publisher.published[1][0].Watchers, 2)
	require.Len(t, publisher.published[2], 1)
	assert.Len(t, publisher.published[2][0].Watchers, 1)
}

// TestDispatchEvent_FilteredWatchersDropped 全部被过滤则不发布
func TestDispatchEvent_FilteredWatchersDropped(t *testing.T) {
	watcher := collectionWatcher()
	watcher.Settings.AllowedEvents = model.StringList{string(model.EventTypeOffer)}

	publisher := &fakePublisher{}
	d := newTestDispatcher(&fakeEventSource{}, publisher, 10)

	d.dispatchEvent(context.Background(), watchedEvent(watcher), nil)
	assert.Empty(t, publisher.published)
}

// TestDispatchEvent_PublishErrorDoesNotPanic 发布失败只记日志
func TestDispatchEvent_PublishErrorDoesNotPanic(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker down")}
	d := newTestDispatcher(&fakeEventSource{}, publisher, 1)

	assert.NotPanics(t, func() {
		d.dispatchEvent(context.Background(), watchedEvent(collectionWatcher()), nil)
	})
}

// TestDispatcher_StartStop 启停幂等，循环按间隔拉取
func TestDispatcher_StartStop(t *testing.T) {
	events := &fakeEventSource{}
	d := newTestDispatcher(events, &fakePublisher{}, 1)

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.IsRunning())
	assert.ErrorIs(t, d.Start(context.Background()), ErrDispatcherAlreadyRunning)

	assert.Eventually(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return events.calls >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())
	assert.ErrorIs(t, d.Stop(), ErrDispatcherNotRunning)
}

// TestDispatchOnce_AdvancesOnlyOnSuccess 拉取成功后推进游标
func TestDispatchOnce_AdvancesOnlyOnSuccess(t *testing.T) {
	events := &fakeEventSource{events: []*model.WatchedEvent{watchedEvent(collectionWatcher())}}
	publisher := &fakePublisher{}
	d := newTestDispatcher(events, publisher, 1)

	before := d.lastPoll
	d.dispatchOnce(context.Background())
	assert.True(t, d.lastPoll.After(before))
	require.Len(t, publisher.published[0], 1)
}
