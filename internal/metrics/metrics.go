// Package metrics 提供交易事件管线的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flipance"

// 链上监听指标
var (
	// EventsIngestedTotal 入库事件总数
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "入库事件总数",
		},
		[]string{"marketplace", "event_type"},
	)

	// EventsDroppedTotal 丢弃事件总数
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "丢弃事件总数",
		},
		[]string{"marketplace", "reason"}, // reason: duplicate, malformed, no_correlation, db_error
	)

	// ReceiptLookupDuration 回执查询耗时
	ReceiptLookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receipt_lookup_duration_seconds",
			Help:      "交易回执查询耗时(秒)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// TransferScanMissesTotal 回执内未找到配套转移的次数
	TransferScanMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_scan_misses_total",
			Help:      "回执内未找到配套 NFT 转移的次数",
		},
		[]string{"marketplace"},
	)

	// SubscriptionReconnectsTotal 日志订阅重建次数
	SubscriptionReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconnects_total",
			Help:      "合约日志订阅重建次数",
		},
		[]string{"marketplace"},
	)

	// LatestSeenBlockGauge 监听到的最新区块高度
	LatestSeenBlockGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_seen_block",
			Help:      "监听到的最新区块高度",
		},
	)
)

// REST 轮询指标
var (
	// PollRequestsTotal 轮询请求总数
	PollRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_requests_total",
			Help:      "订单轮询请求总数",
		},
		[]string{"endpoint", "status"}, // status: ok, rate_limited, error
	)

	// PollRequestDuration 轮询请求耗时
	PollRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_request_duration_seconds",
			Help:      "订单轮询请求耗时(秒)",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"endpoint"},
	)

	// RateLimitDelayGauge 当前自适应限速等待时长
	RateLimitDelayGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_delay_seconds",
			Help:      "当前自适应限速等待时长(秒)",
		},
	)

	// PolledCollectionsGauge 轮询中的集合数量
	PolledCollectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "polled_collections_total",
			Help:      "当前轮询中的集合数量",
		},
	)
)

// 价格状态指标
var (
	// FloorUpdatesTotal 地板价更新总数
	FloorUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "floor_updates_total",
			Help:      "地板价更新总数",
		},
	)

	// OfferUpdatesTotal 最高报价更新总数
	OfferUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offer_updates_total",
			Help:      "最高报价更新总数",
		},
	)

	// PriceRecomputesTotal 强制重算次数
	PriceRecomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_recomputes_total",
			Help:      "订单哈希命中触发的强制重算次数",
		},
		[]string{"order_type"},
	)
)

// 通知分发指标
var (
	// WatchedEventsMatchedTotal 命中观察者的事件总数
	WatchedEventsMatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watched_events_matched_total",
			Help:      "命中观察者的事件总数",
		},
	)

	// NotificationsDispatchedTotal 分发的通知总数
	NotificationsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "分发的通知总数",
		},
		[]string{"shard"},
	)

	// NotificationsFilteredTotal 被偏好过滤掉的通知总数
	NotificationsFilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_filtered_total",
			Help:      "被观察者偏好过滤掉的通知总数",
		},
		[]string{"reason"}, // reason: marketplace, event_type, floor_difference
	)

	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic"},
	)
)

// 数据库指标
var (
	// DBQueryDuration 数据库查询耗时
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "数据库查询耗时(秒)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation", "table"},
	)
)

// Helper functions

// RecordEventIngested 记录入库事件
func RecordEventIngested(marketplace, eventType string) {
	EventsIngestedTotal.WithLabelValues(marketplace, eventType).Inc()
}

// RecordEventDropped 记录丢弃事件
func RecordEventDropped(marketplace, reason string) {
	EventsDroppedTotal.WithLabelValues(marketplace, reason).Inc()
}

// RecordPollRequest 记录轮询请求
func RecordPollRequest(endpoint, status string, durationSeconds float64) {
	PollRequestsTotal.WithLabelValues(endpoint, status).Inc()
	if durationSeconds > 0 {
		PollRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
	}
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string) {
	KafkaMessagesProduced.WithLabelValues(topic).Inc()
}
