// Package app 提供服务的应用生命周期管理
//
// 服务职责:
// 1. 链上监听 (Listener): 订阅五个市场结算合约的日志，规范化入库
// 2. 订单簿轮询 (Poller): 限速刷新订阅集合的地板价/最高报价和订单变更
// 3. 价格状态 (PriceState): 维护每个集合的当前地板与最高出价
// 4. 通知分发 (Dispatcher): 命中 watcher 的事件过滤后按分片发往 Kafka
// 5. 钱包同步 (WalletSync): 定期刷新钱包订阅的持仓与轮询集合
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fpluis/flipance-sub000/internal/blockchain"
	"github.com/fpluis/flipance-sub000/internal/cache"
	"github.com/fpluis/flipance-sub000/internal/config"
	"github.com/fpluis/flipance-sub000/internal/kafka"
	"github.com/fpluis/flipance-sub000/internal/listener"
	"github.com/fpluis/flipance-sub000/internal/marketplace"
	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/internal/notifier"
	"github.com/fpluis/flipance-sub000/internal/poller"
	"github.com/fpluis/flipance-sub000/internal/pricestate"
	"github.com/fpluis/flipance-sub000/internal/repository"
	"github.com/fpluis/flipance-sub000/internal/service"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis *redis.Client

	// 区块链
	chainClient *blockchain.Client
	timestamps  *blockchain.TimestampCache

	// 仓储
	eventRepo   repository.EventRepository
	floorRepo   repository.FloorRepository
	offerRepo   repository.OfferRepository
	watcherRepo repository.WatcherRepository
	shardRepo   repository.ShardRepository

	// 组件
	priceCache  *cache.PriceCache
	priceStore  *pricestate.Store
	orderBook   *poller.Client
	collections *poller.CollectionSet
	orderPoller *poller.Poller
	logListener *listener.Listener
	walletSync  *service.WalletSyncService
	dispatcher  *notifier.Dispatcher

	// Kafka
	kafkaProducer  *kafka.Producer
	eventPublisher *kafka.KafkaEventPublisher

	// 指标
	metricsServer *http.Server

	// 运行控制
	stopCh chan struct{}
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initBlockchain(); err != nil {
		return nil, fmt.Errorf("failed to init blockchain: %w", err)
	}

	app.initRepositories()

	if err := app.initKafka(); err != nil {
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	if err := app.initComponents(); err != nil {
		return nil, fmt.Errorf("failed to init components: %w", err)
	}

	app.initMetricsServer()

	return app, nil
}

// initInfrastructure 初始化基础设施
func (a *App) initInfrastructure() error {
	// PostgreSQL
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		a.cfg.Postgres.Host,
		a.cfg.Postgres.Port,
		a.cfg.Postgres.User,
		a.cfg.Postgres.Password,
		a.cfg.Postgres.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected", zap.String("host", a.cfg.Postgres.Host))

	// 自动迁移
	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")

	// Redis
	redisAddr := "localhost:6379"
	if len(a.cfg.Redis.Addresses) > 0 {
		redisAddr = a.cfg.Redis.Addresses[0]
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	if err := a.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", redisAddr))

	return nil
}

// initBlockchain 初始化区块链客户端和时间戳缓存
func (a *App) initBlockchain() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)

	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID:         a.cfg.Blockchain.ChainID,
		RPCURLs:         rpcURLs,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		HealthCheckFreq: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create blockchain client: %w", err)
	}
	a.chainClient = client

	timestamps, err := blockchain.NewTimestampCache(client, a.cfg.Blockchain.TimestampCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create timestamp cache: %w", err)
	}
	a.timestamps = timestamps

	logger.Info("blockchain client initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.Int("rpc_endpoints", len(rpcURLs)))
	return nil
}

// initRepositories 初始化仓储
func (a *App) initRepositories() {
	a.eventRepo = repository.NewEventRepository(a.db)
	a.floorRepo = repository.NewFloorRepository(a.db)
	a.offerRepo = repository.NewOfferRepository(a.db)
	a.watcherRepo = repository.NewWatcherRepository(a.db)
	a.shardRepo = repository.NewShardRepository(a.db)

	logger.Info("repositories initialized")
}

// initKafka 初始化 Kafka 生产者
func (a *App) initKafka() error {
	producer, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}
	a.kafkaProducer = producer
	a.eventPublisher = kafka.NewKafkaEventPublisher(producer)

	logger.Info("kafka initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initComponents 初始化监听、轮询、价格状态、分发和同步组件
func (a *App) initComponents() error {
	// 订单簿客户端与限速器
	a.orderBook = poller.NewClient(&poller.ClientConfig{
		BaseURL:    a.cfg.LooksRare.BaseURL,
		APIKey:     a.cfg.LooksRare.APIKey,
		MaxRetries: a.cfg.LooksRare.MaxRetries,
	})
	limiter := poller.NewRateLimiter(a.cfg.LooksRare.RequestsPerMinute, poller.DefaultRateWindowSize)
	a.collections = poller.NewCollectionSet()

	// 价格状态: 监听和轮询的共同汇入点
	a.priceCache = cache.NewPriceCache(a.redis)
	a.priceStore = pricestate.NewStore(a.eventRepo, a.floorRepo, a.offerRepo, a.priceCache, a.orderBook)

	a.orderPoller = poller.NewPoller(a.orderBook, limiter, a.collections, a.priceStore, &poller.PollerConfig{
		BatchSize:         a.cfg.LooksRare.BatchSize,
		OrderPollInterval: time.Duration(a.cfg.LooksRare.OrderPollInterval) * time.Second,
		EventPollInterval: time.Duration(a.cfg.LooksRare.EventPollInterval) * time.Second,
	})

	// 链上监听
	metadata, err := listener.NewMetadataFetcher(a.chainClient, a.cfg.Blockchain.MetadataCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create metadata fetcher: %w", err)
	}
	a.logListener = listener.NewListener(
		a.chainClient,
		a.timestamps,
		metadata,
		a.priceStore,
		a.enabledParsers(),
		&listener.ListenerConfig{
			ResubscribeDelay: time.Duration(a.cfg.Blockchain.ResubscribeDelay) * time.Second,
		},
	)

	// 钱包同步
	a.walletSync = service.NewWalletSyncService(a.orderBook, a.watcherRepo, a.collections,
		&service.WalletSyncConfig{
			Interval: time.Duration(a.cfg.WalletSync.Interval) * time.Second,
		})

	// 通知分发
	maxDiff, err := decimal.NewFromString(a.cfg.Notifier.DefaultMaxOfferFloorDifference)
	if err != nil {
		return fmt.Errorf("invalid default_max_offer_floor_difference: %w", err)
	}
	filter := notifier.NewFilter(&notifier.FilterConfig{
		RecencyWindow:                  time.Duration(a.cfg.Notifier.RecencyWindowMinutes) * time.Minute,
		StalenessBound:                 time.Duration(a.cfg.Notifier.StalenessMinutes) * time.Minute,
		DefaultMaxOfferFloorDifference: maxDiff,
	})
	a.dispatcher = notifier.NewDispatcher(a.eventRepo, a.watcherRepo, a.eventPublisher, filter,
		&notifier.DispatcherConfig{
			TotalShards:  a.cfg.Notifier.TotalShards,
			PollInterval: time.Duration(a.cfg.Notifier.PollInterval) * time.Second,
		})

	logger.Info("components initialized")
	return nil
}

// enabledParsers 按配置过滤启用的市场解析器，空配置启用全部
func (a *App) enabledParsers() []marketplace.Parser {
	parsers := marketplace.AllParsers()
	if len(a.cfg.Marketplaces.Enabled) == 0 {
		return parsers
	}

	enabled := make(map[string]struct{}, len(a.cfg.Marketplaces.Enabled))
	for _, name := range a.cfg.Marketplaces.Enabled {
		enabled[strings.ToLower(name)] = struct{}{}
	}

	var filtered []marketplace.Parser
	for _, parser := range parsers {
		if _, ok := enabled[strings.ToLower(string(parser.Marketplace()))]; ok {
			filtered = append(filtered, parser)
		}
	}
	return filtered
}

// initMetricsServer 初始化指标服务
func (a *App) initMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	a.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Service.MetricsPort),
		Handler: mux,
	}
}

// Run 运行应用
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.logShardAssignments(ctx)

	// 钱包同步先跑: 第一轮就把轮询集合灌好
	if err := a.walletSync.Start(ctx); err != nil {
		return fmt.Errorf("failed to start wallet sync: %w", err)
	}
	if err := a.logListener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	if err := a.orderPoller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	if err := a.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	go func() {
		logger.Info("metrics server listening", zap.Int("port", a.cfg.Service.MetricsPort))
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	return a.shutdown()
}

// logShardAssignments 记录当前分片分配，空表时按配置落一份默认分配
func (a *App) logShardAssignments(ctx context.Context) {
	assignments, err := a.shardRepo.GetAll(ctx)
	if err != nil {
		logger.Warn("shard assignment load failed", zap.Error(err))
		return
	}
	if len(assignments) == 0 && a.cfg.Notifier.InstanceID != "" {
		seed := make([]*model.ShardAssignment, 0, a.cfg.Notifier.TotalShards)
		for shard := 0; shard < a.cfg.Notifier.TotalShards; shard++ {
			seed = append(seed, &model.ShardAssignment{
				Shard:       shard,
				InstanceID:  fmt.Sprintf("%s-%d", a.cfg.Notifier.InstanceID, shard),
				TotalShards: a.cfg.Notifier.TotalShards,
			})
		}
		if err := a.shardRepo.ReplaceAll(ctx, seed); err != nil {
			logger.Warn("shard assignment seed failed", zap.Error(err))
			return
		}
		assignments = seed
	}
	logger.Info("shard assignments", zap.Int("count", len(assignments)))
}

// shutdown 关闭应用
func (a *App) shutdown() error {
	logger.Info("shutting down...")

	// 先停事件生产方，再停下游
	if a.logListener != nil && a.logListener.IsRunning() {
		_ = a.logListener.Stop()
	}
	if a.orderPoller != nil && a.orderPoller.IsRunning() {
		_ = a.orderPoller.Stop()
	}
	if a.walletSync != nil && a.walletSync.IsRunning() {
		_ = a.walletSync.Stop()
	}
	if a.dispatcher != nil && a.dispatcher.IsRunning() {
		_ = a.dispatcher.Stop()
	}

	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(shutdownCtx)
	}

	if a.kafkaProducer != nil {
		_ = a.kafkaProducer.Close()
	}

	if a.chainClient != nil {
		a.chainClient.Close()
	}

	if a.redis != nil {
		_ = a.redis.Close()
	}

	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// Stop 停止应用
func (a *App) Stop() {
	close(a.stopCh)
}
