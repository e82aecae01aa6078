package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")
	ErrTxNotFound   = errors.New("transaction not found")
)

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// Client 区块链只读客户端
//
// 本管线不发起任何写交易: 只订阅合约日志、取回执、取区块头、做元数据 call。
type Client struct {
	chainID int64

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
}

// NewClient 创建只读客户端
func NewClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	endpoints := make([]*RPCEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &RPCEndpoint{
			URL:       url,
			IsHealthy: true,
		}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = time.Second
	}

	healthCheckFreq := cfg.HealthCheckFreq
	if healthCheckFreq == 0 {
		healthCheckFreq = 30 * time.Second
	}

	c := &Client{
		chainID:         cfg.ChainID,
		endpoints:       endpoints,
		maxRetries:      maxRetries,
		retryInterval:   retryInterval,
		healthCheckFreq: healthCheckFreq,
	}

	if err := c.connect(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

// connect 连接到可用的 RPC
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			continue
		}

		// 检查连接
		_, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			ep.IsHealthy = false
			ep.ErrorCount++
			ep.LastCheck = time.Now()
			continue
		}

		if c.client != nil {
			c.client.Close()
		}

		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

// getClient 获取客户端，不可用则尝试重连
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// withRetry 带重试的操作
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		client, err := c.getClient(ctx)
		if err != nil {
			lastErr = err
			time.Sleep(c.retryInterval)
			continue
		}

		err = fn(client)
		if err == nil {
			return nil
		}

		lastErr = err

		// 标记当前端点为不健康
		c.mu.Lock()
		if c.currentIdx < len(c.endpoints) {
			c.endpoints[c.currentIdx].IsHealthy = false
			c.endpoints[c.currentIdx].ErrorCount++
		}
		c.mu.Unlock()

		if i < c.maxRetries-1 {
			c.connect(ctx)
			time.Sleep(c.retryInterval)
		}
	}
	return lastErr
}

// ChainID 返回链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	return blockNum, err
}

// HeaderByNumber 获取区块头 (时间戳解析用)
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// GetTransactionReceipt 获取交易回执
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return receipt, err
}

// FilterLogs 查询历史日志 (ERC-1155 URI 事件回溯等)
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		logs, err = client.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// SubscribeFilterLogs 订阅合约日志
//
// 订阅绑定建立时的连接，断流由调用方通过 sub.Err() 感知并重建。
func (c *Client) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.SubscribeFilterLogs(ctx, query, ch)
}

// CallContract 只读合约调用 (tokenURI / uri)
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, nil)
		return err
	})
	return result, err
}

// Close 关闭连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}
