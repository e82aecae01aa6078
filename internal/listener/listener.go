// Package listener 订阅各市场结算合约的日志并入库规范化事件。
//
// 每个市场一条订阅，断流后自动重建; 单条日志的解析、回执补全、
// 元数据读取在独立 goroutine 内完成，互不阻塞。
// 补全步骤失败只降级不丢事件，带关联标识的事件总会入库。
package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/internal/marketplace"
	"github.com/fpluis/flipance-sub000/internal/metrics"
	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/internal/normalizer"
	"github.com/fpluis/flipance-sub000/internal/repository"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

var (
	ErrListenerAlreadyRunning = errors.New("listener already running")
	ErrListenerNotRunning     = errors.New("listener not running")
)

// ChainSource 监听所需的链上操作 (Client 的最小子集)
type ChainSource interface {
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// TimestampSource 区块时间戳解析
type TimestampSource interface {
	BlockTime(ctx context.Context, blockNumber uint64) time.Time
}

// MetadataSource token 元数据读取
type MetadataSource interface {
	TokenURI(ctx context.Context, collection common.Address, tokenID *big.Int, standard model.Standard) (string, error)
}

// EventSink 监听产出事件的去向 (价格状态组件)
type EventSink interface {
	HandleEvent(ctx context.Context, event *model.NFTEvent) error
}

// Listener 链上结算日志监听服务
type Listener struct {
	chain      ChainSource
	timestamps TimestampSource
	metadata   MetadataSource
	sink       EventSink
	parsers    []marketplace.Parser

	resubscribeDelay time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ListenerConfig 配置
type ListenerConfig struct {
	ResubscribeDelay time.Duration
}

// NewListener 创建监听服务
func NewListener(
	chain ChainSource,
	timestamps TimestampSource,
	metadata MetadataSource,
	sink EventSink,
	parsers []marketplace.Parser,
	cfg *ListenerConfig,
) *Listener {
	resubscribeDelay := cfg.ResubscribeDelay
	if resubscribeDelay == 0 {
		resubscribeDelay = 5 * time.Second
	}

	return &Listener{
		chain:            chain,
		timestamps:       timestamps,
		metadata:         metadata,
		sink:             sink,
		parsers:          parsers,
		resubscribeDelay: resubscribeDelay,
	}
}

// Start 启动监听服务
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrListenerAlreadyRunning
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	for _, parser := range l.parsers {
		l.wg.Add(1)
		go l.subscribeLoop(ctx, parser)
	}

	logger.Info("listener started", zap.Int("marketplaces", len(l.parsers)))
	return nil
}

// Stop 停止监听服务并等待在途订阅退出
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrListenerNotRunning
	}
	close(l.stopCh)
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()
	logger.Info("listener stopped")
	return nil
}

// IsRunning 检查是否运行中
func (l *Listener) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// subscribeLoop 维护单个市场的订阅，断流后延迟重建
func (l *Listener) subscribeLoop(ctx context.Context, parser marketplace.Parser) {
	defer l.wg.Done()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{parser.Contract()},
		Topics:    [][]common.Hash{parser.Topics()},
	}

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		ch := make(chan types.Log, 256)
		sub, err := l.chain.SubscribeFilterLogs(ctx, query, ch)
		if err != nil {
			logger.Error("log subscription failed",
				zap.String("marketplace", string(parser.Marketplace())),
				zap.Error(err))
			metrics.SubscriptionReconnectsTotal.WithLabelValues(string(parser.Marketplace())).Inc()
			l.sleep(l.resubscribeDelay)
			continue
		}

		l.consume(ctx, parser, ch, sub)
	}
}

// consume 消费订阅流直到断流或停止
func (l *Listener) consume(ctx context.Context, parser marketplace.Parser, ch chan types.Log, sub ethereum.Subscription) {
	defer sub.Unsubscribe()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			logger.Warn("log subscription interrupted",
				zap.String("marketplace", string(parser.Marketplace())),
				zap.Error(err))
			metrics.SubscriptionReconnectsTotal.WithLabelValues(string(parser.Marketplace())).Inc()
			return
		case log := <-ch:
			// 单条日志独立处理，回执和元数据 IO 不阻塞订阅流
			l.wg.Add(1)
			go func(log types.Log) {
				defer l.wg.Done()
				if err := l.processLog(ctx, parser, log); err != nil {
					logger.Error("failed to process settlement log",
						zap.String("marketplace", string(parser.Marketplace())),
						zap.String("tx_hash", log.TxHash.Hex()),
						zap.Uint("log_index", log.Index),
						zap.Error(err))
				}
			}(log)
		}
	}
}

// processLog 解析单条结算日志并入库
func (l *Listener) processLog(ctx context.Context, parser marketplace.Parser, log types.Log) error {
	market := string(parser.Marketplace())

	raw, err := parser.ParseLog(log)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnknownTopic) {
			return nil
		}
		metrics.RecordEventDropped(market, "malformed")
		return err
	}

	raw.Timestamp = l.timestamps.BlockTime(ctx, log.BlockNumber)

	if raw.EventType.IsSale() {
		l.enrichFromReceipt(ctx, parser, raw, log)
	}

	event := normalizer.FromChain(raw)
	l.attachMetadata(ctx, raw, event)

	if err := l.sink.HandleEvent(ctx, event); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEvent):
			metrics.RecordEventDropped(market, "duplicate")
			return nil
		case errors.Is(err, repository.ErrMissingArguments):
			metrics.RecordEventDropped(market, "no_correlation")
			return err
		default:
			metrics.RecordEventDropped(market, "db_error")
			return err
		}
	}

	metrics.RecordEventIngested(market, string(event.EventType))
	metrics.LatestSeenBlockGauge.Set(float64(log.BlockNumber))

	logger.Info("event ingested",
		zap.String("event_id", event.EventID),
		zap.String("marketplace", market),
		zap.String("event_type", string(event.EventType)),
		zap.String("collection", event.Collection),
		zap.String("price", event.Price.String()))
	return nil
}

// enrichFromReceipt 用交易回执补全成交事件。
//
// 回执或转移缺失只记指标并降级，事件仍按交易哈希入库。
func (l *Listener) enrichFromReceipt(ctx context.Context, parser marketplace.Parser, raw *marketplace.RawEvent, log types.Log) {
	start := time.Now()
	receipt, err := l.chain.GetTransactionReceipt(ctx, log.TxHash)
	metrics.ReceiptLookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("receipt lookup failed, ingesting without transfer details",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Error(err))
		return
	}

	if receipt.EffectiveGasPrice != nil {
		gasWei := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		raw.Gas = decimal.NewFromBigInt(gasWei, -18)
	}

	details, err := marketplace.FindTransfer(receipt.Logs, log.Index, parser.ScanDirection())
	if err != nil {
		metrics.TransferScanMissesTotal.WithLabelValues(string(parser.Marketplace())).Inc()
		return
	}

	if raw.Collection == "" {
		raw.Collection = details.Collection.Hex()
	}
	if raw.TokenID == nil && details.TokenID != nil {
		tokenID := details.TokenID.String()
		raw.TokenID = &tokenID
	}
	if details.Standard != "" {
		raw.Standard = model.Standard(details.Standard)
	}
	if details.Amount > 0 {
		raw.Amount = details.Amount
	}

	// 转移日志里的接收方是最终买家，聚合器成交时覆盖解析值
	to := details.To.Hex()
	raw.Buyer = &to
	if raw.Seller == nil {
		from := details.From.Hex()
		raw.Seller = &from
	}
	if details.Intermediary != nil {
		intermediary := details.Intermediary.Hex()
		raw.Intermediary = &intermediary
	}
}

// attachMetadata 读取元数据 URI，失败按缺失处理
func (l *Listener) attachMetadata(ctx context.Context, raw *marketplace.RawEvent, event *model.NFTEvent) {
	if event.Collection == "" || event.TokenID == nil {
		return
	}
	tokenID, ok := new(big.Int).SetString(*event.TokenID, 10)
	if !ok {
		return
	}

	uri, err := l.metadata.TokenURI(ctx, common.HexToAddress(event.Collection), tokenID, event.Standard)
	if err != nil {
		logger.Debug("metadata lookup failed",
			zap.String("collection", event.Collection),
			zap.String("token_id", *event.TokenID),
			zap.Error(err))
		return
	}
	event.MetadataURI = &uri
}

// sleep 可被停止信号打断的等待
func (l *Listener) sleep(d time.Duration) {
	select {
	case <-l.stopCh:
	case <-time.After(d):
	}
}
