// Package service 承载后台维护任务。
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

var (
	ErrWalletSyncAlreadyRunning = errors.New("wallet sync already running")
	ErrWalletSyncNotRunning     = errors.New("wallet sync not running")
)

// TokenSource 钱包持仓查询 (订单簿客户端的最小子集)
type TokenSource interface {
	GetUserTokens(ctx context.Context, address string) ([]string, error)
}

// WatcherStore 订阅读写 (仓储的最小子集)
type WatcherStore interface {
	GetAll(ctx context.Context) ([]*model.Watcher, error)
	SetTokens(ctx context.Context, id int64, tokens model.StringList) error
}

// CollectionTargets 轮询集合的替换入口
type CollectionTargets interface {
	Replace(collections []string)
}

// WalletSyncService 钱包持仓同步任务。
//
// 定期刷新每个钱包订阅当前持有的 token 集合，再把
// 全部订阅涉及的集合并集灌给轮询器: 订阅的集合地址
// 加上钱包持仓覆盖的集合。
type WalletSyncService struct {
	tokens   TokenSource
	watchers WatcherStore
	targets  CollectionTargets

	interval time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// WalletSyncConfig 配置
type WalletSyncConfig struct {
	Interval time.Duration
}

// NewWalletSyncService 创建钱包同步任务
func NewWalletSyncService(
	tokens TokenSource,
	watchers WatcherStore,
	targets CollectionTargets,
	cfg *WalletSyncConfig,
) *WalletSyncService {
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Hour
	}

	return &WalletSyncService{
		tokens:   tokens,
		watchers: watchers,
		targets:  targets,
		interval: interval,
	}
}

// Start 启动同步循环，启动时先跑一轮
func (s *WalletSyncService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrWalletSyncAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logger.Info("wallet sync started", zap.Duration("interval", s.interval))
	return nil
}

// Stop 停止同步循环
func (s *WalletSyncService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrWalletSyncNotRunning
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("wallet sync stopped")
	return nil
}

// IsRunning 检查是否运行中
func (s *WalletSyncService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *WalletSyncService) loop(ctx context.Context) {
	defer s.wg.Done()

	s.SyncOnce(ctx)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
		s.SyncOnce(ctx)
	}
}

// SyncOnce 执行一轮同步。
//
// 单个钱包的持仓查询失败只跳过该钱包，保留其上一轮 token
// 集合，其余钱包照常刷新。
func (s *WalletSyncService) SyncOnce(ctx context.Context) {
	watchers, err := s.watchers.GetAll(ctx)
	if err != nil {
		logger.Error("watcher list load failed", zap.Error(err))
		return
	}

	collections := make(map[string]struct{})
	for _, watcher := range watchers {
		switch watcher.Type {
		case model.WatcherTypeWallet:
			s.syncWallet(ctx, watcher, collections)
		default:
			if watcher.Address != "" {
				collections[strings.ToLower(watcher.Address)] = struct{}{}
			}
		}
	}

	union := make([]string, 0, len(collections))
	for collection := range collections {
		union = append(union, collection)
	}
	sort.Strings(union)
	s.targets.Replace(union)

	logger.Info("wallet sync pass complete",
		zap.Int("watchers", len(watchers)),
		zap.Int("collections", len(union)))
}

// syncWallet 刷新单个钱包的持仓并归并其集合
func (s *WalletSyncService) syncWallet(ctx context.Context, watcher *model.Watcher, collections map[string]struct{}) {
	tokens, err := s.tokens.GetUserTokens(ctx, watcher.Address)
	if err != nil {
		logger.Warn("wallet token refresh failed, keeping previous set",
			zap.Int64("watcher_id", watcher.ID),
			zap.String("address", watcher.Address),
			zap.Error(err))
		tokens = watcher.Tokens
	} else {
		if err := s.watchers.SetTokens(ctx, watcher.ID, tokens); err != nil {
			logger.Warn("wallet token persist failed",
				zap.Int64("watcher_id", watcher.ID),
				zap.Error(err))
		}
	}

	for _, token := range tokens {
		collection, _, found := strings.Cut(token, "/")
		if !found || collection == "" {
			continue
		}
		collections[strings.ToLower(collection)] = struct{}{}
	}
}
