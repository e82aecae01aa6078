package notifier

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/internal/kafka"
	"github.com/fpluis/flipance-sub000/internal/metrics"
	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

var (
	ErrDispatcherAlreadyRunning = errors.New("dispatcher already running")
	ErrDispatcherNotRunning     = errors.New("dispatcher not running")
)

// EventSource 事件与账号偏好的来源 (仓储的最小子集)
type EventSource interface {
	GetWatchedEvents(ctx context.Context, since time.Time) ([]*model.WatchedEvent, error)
}

// AccountSource 账号级偏好来源
type AccountSource interface {
	GetAccountSettings(ctx context.Context) (map[string]model.Settings, error)
}

// Dispatcher 通知分发服务。
//
// 定期拉取命中 watcher 的新事件，经偏好过滤后按分片
// 归组发往 Kafka。投递 worker 只消费自己分片的分区。
type Dispatcher struct {
	events    EventSource
	accounts  AccountSource
	publisher kafka.EventPublisher
	filter    *Filter

	totalShards  int
	pollInterval time.Duration
	lastPoll     time.Time

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// DispatcherConfig 配置
type DispatcherConfig struct {
	TotalShards  int
	PollInterval time.Duration
}

// NewDispatcher 创建分发服务
func NewDispatcher(
	events EventSource,
	accounts AccountSource,
	publisher kafka.EventPublisher,
	filter *Filter,
	cfg *DispatcherConfig,
) *Dispatcher {
	totalShards := cfg.TotalShards
	if totalShards <= 0 {
		totalShards = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Minute
	}

	return &Dispatcher{
		events:       events,
		accounts:     accounts,
		publisher:    publisher,
		filter:       filter,
		totalShards:  totalShards,
		pollInterval: pollInterval,
	}
}

// Start 启动分发循环
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherAlreadyRunning
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.lastPoll = time.Now().Add(-d.pollInterval)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx)

	logger.Info("notification dispatcher started",
		zap.Int("total_shards", d.totalShards),
		zap.Duration("poll_interval", d.pollInterval))
	return nil
}

// Stop 停止分发循环
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDispatcherNotRunning
	}
	close(d.stopCh)
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	logger.Info("notification dispatcher stopped")
	return nil
}

// IsRunning 检查是否运行中
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(d.pollInterval):
		}

		d.dispatchOnce(ctx)
	}
}

// dispatchOnce 拉取上次轮询以来的新事件并分发。
//
// 拉取失败不推进 lastPoll，下一轮覆盖同一区间，事件不会漏投。
func (d *Dispatcher) dispatchOnce(ctx context.Context) {
	start := time.Now()
	events, err := d.events.GetWatchedEvents(ctx, d.lastPoll)
	if err != nil {
		logger.Error("watched events poll failed", zap.Error(err))
		return
	}

	accounts, err := d.accounts.GetAccountSettings(ctx)
	if err != nil {
		logger.Warn("account settings load failed, using defaults", zap.Error(err))
		accounts = map[string]model.Settings{}
	}

	for _, event := range events {
		d.dispatchEvent(ctx, event, accounts)
	}
	d.lastPoll = start
}

// dispatchEvent 过滤单个事件的 watcher 集合并按分片发布
func (d *Dispatcher) dispatchEvent(ctx context.Context, event *model.WatchedEvent, accounts map[string]model.Settings) {
	if len(event.Watchers) == 0 {
		return
	}

	now := time.Now()
	byShard := make(map[int][]*model.Watcher)
	for _, watcher := range event.Watchers {
		ok, reason := d.filter.Match(&event.NFTEvent, watcher, accounts[watcher.UserID], now)
		if !ok {
			metrics.NotificationsFilteredTotal.WithLabelValues(reason).Inc()
			continue
		}
		shard := ShardOf(watcher.ID, d.totalShards)
		byShard[shard] = append(byShard[shard], watcher)
	}
	if len(byShard) == 0 {
		return
	}

	metrics.WatchedEventsMatchedTotal.Inc()
	for shard, watchers := range byShard {
		message := &model.WatchedEvent{
			NFTEvent: event.NFTEvent,
			Watchers: watchers,
		}
		if err := d.publisher.PublishWatchedEvent(ctx, shard, message); err != nil {
			logger.Error("watched event publish failed",
				zap.String("event_id", event.EventID),
				zap.Int("shard", shard),
				zap.Error(err))
			continue
		}
		metrics.NotificationsDispatchedTotal.WithLabelValues(strconv.Itoa(shard)).Inc()
	}
}
