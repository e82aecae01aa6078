package blockchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHeaderFetcher 可编程的区块头读取
type fakeHeaderFetcher struct {
	headers map[uint64]*types.Header
	calls   int
	err     error
}

func (f *fakeHeaderFetcher) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	header, ok := f.headers[number.Uint64()]
	if !ok {
		return nil, errors.New("header not found")
	}
	return header, nil
}

// TestTimestampCache_HitAvoidsRPC 命中缓存不再发 RPC
func TestTimestampCache_HitAvoidsRPC(t *testing.T) {
	fetcher := &fakeHeaderFetcher{
		headers: map[uint64]*types.Header{
			100: {Number: big.NewInt(100), Time: 1700000000},
		},
	}
	cache, err := NewTimestampCache(fetcher, 10)
	require.NoError(t, err)

	first := cache.BlockTime(context.Background(), 100)
	assert.Equal(t, int64(1700000000), first.Unix())
	assert.Equal(t, 1, fetcher.calls)

	second := cache.BlockTime(context.Background(), 100)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetcher.calls) // 缓存命中
}

// TestTimestampCache_FallbackToWallClock RPC 失败回退墙钟，不报错
func TestTimestampCache_FallbackToWallClock(t *testing.T) {
	fetcher := &fakeHeaderFetcher{err: errors.New("rpc unavailable")}
	cache, err := NewTimestampCache(fetcher, 10)
	require.NoError(t, err)

	before := time.Now()
	ts := cache.BlockTime(context.Background(), 55)
	after := time.Now()

	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
	assert.Equal(t, 0, cache.Len()) // 失败结果不进缓存
}

// TestTimestampCache_BoundedEviction 容量有界，旧条目被淘汰
func TestTimestampCache_BoundedEviction(t *testing.T) {
	headers := make(map[uint64]*types.Header)
	for i := uint64(1); i <= 5; i++ {
		headers[i] = &types.Header{Number: new(big.Int).SetUint64(i), Time: 1700000000 + i}
	}
	fetcher := &fakeHeaderFetcher{headers: headers}

	cache, err := NewTimestampCache(fetcher, 3)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		cache.BlockTime(context.Background(), i)
	}
	assert.Equal(t, 3, cache.Len())

	// 区块 1 已被淘汰，重新取回执会再次访问 RPC
	callsBefore := fetcher.calls
	cache.BlockTime(context.Background(), 1)
	assert.Equal(t, callsBefore+1, fetcher.calls)
}

// TestTimestampCache_DefaultSize 非法容量回退默认值
func TestTimestampCache_DefaultSize(t *testing.T) {
	cache, err := NewTimestampCache(&fakeHeaderFetcher{}, 0)
	require.NoError(t, err)
	assert.NotNil(t, cache)
}
