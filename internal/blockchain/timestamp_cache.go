package blockchain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fpluis/flipance-sub000/pkg/logger"
)

// DefaultTimestampCacheSize 默认缓存容量
const DefaultTimestampCacheSize = 2048

// HeaderFetcher 区块头读取 (Client 的最小子集，便于测试注入)
type HeaderFetcher interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// TimestampCache 区块时间戳有界缓存
//
// 时间戳不可变，LRU 淘汰即可。RPC 失败回退到当前墙钟时间而不是让事件失败。
type TimestampCache struct {
	fetcher HeaderFetcher
	cache   *lru.Cache[uint64, time.Time]
}

// NewTimestampCache 创建时间戳缓存
func NewTimestampCache(fetcher HeaderFetcher, size int) (*TimestampCache, error) {
	if size <= 0 {
		size = DefaultTimestampCacheSize
	}
	cache, err := lru.New[uint64, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &TimestampCache{
		fetcher: fetcher,
		cache:   cache,
	}, nil
}

// BlockTime 返回区块时间戳，失败时回退墙钟
func (c *TimestampCache) BlockTime(ctx context.Context, blockNumber uint64) time.Time {
	if ts, ok := c.cache.Get(blockNumber); ok {
		return ts
	}

	header, err := c.fetcher.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		logger.Warn("block timestamp lookup failed, falling back to wall clock",
			zap.Uint64("block", blockNumber),
			zap.Error(err))
		return time.Now()
	}

	ts := time.Unix(int64(header.Time), 0)
	c.cache.Add(blockNumber, ts)
	return ts
}

// Len 当前缓存条目数
func (c *TimestampCache) Len() int {
	return c.cache.Len()
}
