// Package kafka 提供 Kafka 生产者功能
//
// 本服务只生产: 已匹配 watcher 的事件发往 nft-events，
// 下游投递 worker 按自己负责的分片消费并过滤 watcher。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/internal/metrics"
	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/pkg/logger"
)

const (
	// TopicNFTEvents 已匹配 watcher 的市场事件 Topic
	// 生产者: 本服务 (notifier.Dispatcher)
	// 消费者: 通知投递 worker
	// Partition Key: 分片序号
	// 消息格式: model.WatchedEvent
	TopicNFTEvents = "nft-events"
)

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
	}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("producer is closed")
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	metrics.RecordKafkaMessage(topic)
	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendWatchedEvent 发送已匹配 watcher 的事件，分片序号做分区键
// 保证同一分片的事件落在同一分区，投递 worker 内有序。
func (p *Producer) SendWatchedEvent(ctx context.Context, shard int, event *model.WatchedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.send(TopicNFTEvents, strconv.Itoa(shard), data)
}

// EventPublisher 事件发布器接口
type EventPublisher interface {
	PublishWatchedEvent(ctx context.Context, shard int, event *model.WatchedEvent) error
}

// KafkaEventPublisher Kafka 事件发布器
type KafkaEventPublisher struct {
	producer *Producer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
	}
}

func (p *KafkaEventPublisher) PublishWatchedEvent(ctx context.Context, shard int, event *model.WatchedEvent) error {
	return p.producer.SendWatchedEvent(ctx, shard, event)
}
