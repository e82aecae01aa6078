package listener

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpluis/flipance-sub000/internal/model"
)

// fakeCaller 可编程的合约调用与日志回查
type fakeCaller struct {
	result []byte
	err    error
	calls  int
	lastTo common.Address
	last   []byte

	logs        []types.Log
	filterErr   error
	filterCalls int
	lastQuery   ethereum.FilterQuery
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.calls++
	f.lastTo = *msg.To
	f.last = msg.Data
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeCaller) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	f.filterCalls++
	f.lastQuery = query
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	return f.logs, nil
}

func packedString(t *testing.T, s string) []byte {
	t.Helper()
	data, err := stringReturnArgs.Pack(s)
	require.NoError(t, err)
	return data
}

// TestMetadataFetcher_ERC721 tokenURI 选择器与 ipfs 改写
func TestMetadataFetcher_ERC721(t *testing.T) {
	caller := &fakeCaller{result: packedString(t, "ipfs://QmHash/42.json")}
	fetcher, err := NewMetadataFetcher(caller, 16)
	require.NoError(t, err)

	collection := common.HexToAddress("0x1111111111111111111111111111111111111111")
	uri, err := fetcher.TokenURI(context.Background(), collection, big.NewInt(42), model.StandardERC721)
	require.NoError(t, err)

	assert.Equal(t, "https://ipfs.io/ipfs/QmHash/42.json", uri)
	assert.Equal(t, collection, caller.lastTo)
	assert.Equal(t, selectorTokenURI, caller.last[:4])
	assert.Equal(t, common.BigToHash(big.NewInt(42)).Bytes(), caller.last[4:])
}

// TestMetadataFetcher_ERC1155 uri 选择器与 {id} 占位符替换
func TestMetadataFetcher_ERC1155(t *testing.T) {
	caller := &fakeCaller{result: packedString(t, "https://api.example.com/token/{id}.json")}
	fetcher, err := NewMetadataFetcher(caller, 16)
	require.NoError(t, err)

	uri, err := fetcher.TokenURI(context.Background(),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		big.NewInt(255), model.StandardERC1155)
	require.NoError(t, err)

	assert.Equal(t, selectorURI, caller.last[:4])
	assert.Equal(t,
		"https://api.example.com/token/00000000000000000000000000000000000000000000000000000000000000ff.json",
		uri)
}

// TestMetadataFetcher_CacheHit 缓存命中不再发调用
func TestMetadataFetcher_CacheHit(t *testing.T) {
	caller := &fakeCaller{result: packedString(t, "https://example.com/1")}
	fetcher, err := NewMetadataFetcher(caller, 16)
	require.NoError(t, err)

	collection := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err = fetcher.TokenURI(context.Background(), collection, big.NewInt(1), model.StandardERC721)
	require.NoError(t, err)
	_, err = fetcher.TokenURI(context.Background(), collection, big.NewInt(1), model.StandardERC721)
	require.NoError(t, err)

	assert.Equal(t, 1, caller.calls)
}

// TestMetadataFetcher_CallFailure ERC-721 调用失败返回哨兵错误，不回查日志
func TestMetadataFetcher_CallFailure(t *testing.T) {
	caller := &fakeCaller{err: errors.New("execution reverted")}
	fetcher, err := NewMetadataFetcher(caller, 16)
	require.NoError(t, err)

	_, err = fetcher.TokenURI(context.Background(),
		common.HexToAddress("0x4444444444444444444444444444444444444444"),
		big.NewInt(1), model.StandardERC721)
	assert.ErrorIs(t, err, ErrNoMetadata)
	assert.Zero(t, caller.filterCalls)
}

// TestMetadataFetcher_ERC1155EventFallback uri() 不可用时回查 URI 事件日志
func TestMetadataFetcher_ERC1155EventFallback(t *testing.T) {
	caller := &fakeCaller{
		err: errors.New("execution reverted"),
		logs: []types.Log{
			{Data: packedString(t, "https://old.example.com/{id}.json")},
			{Data: packedString(t, "https://api.example.com/{id}.json")},
		},
	}
	fetcher, err := NewMetadataFetcher(caller, 16)
	require.NoError(t, err)

	collection := common.HexToAddress("0x5555555555555555555555555555555555555555")
	uri, err := fetcher.TokenURI(context.Background(), collection, big.NewInt(7), model.StandardERC1155)
	require.NoError(t, err)

	// 取最近一次设置的值，{id} 占位符照常替换
	assert.Equal(t,
		"https://api.example.com/0000000000000000000000000000000000000000000000000000000000000007.json",
		uri)
	assert.Equal(t, []common.Address{collection}, caller.lastQuery.Addresses)
	assert.Equal(t, topicURIEvent, caller.lastQuery.Topics[0][0])
	assert.Equal(t, common.BigToHash(big.NewInt(7)), caller.lastQuery.Topics[1][0])
}

// TestMetadataFetcher_ERC1155NoURIEvents 调用和日志都不可用才放弃
func TestMetadataFetcher_ERC1155NoURIEvents(t *testing.T) {
	caller := &fakeCaller{err: errors.New("execution reverted")}
	fetcher, err := NewMetadataFetcher(caller, 16)
	require.NoError(t, err)

	_, err = fetcher.TokenURI(context.Background(),
		common.HexToAddress("0x6666666666666666666666666666666666666666"),
		big.NewInt(7), model.StandardERC1155)
	assert.ErrorIs(t, err, ErrNoMetadata)
	assert.Equal(t, 1, caller.filterCalls)
}

// TestRewriteIPFS 非 ipfs URI 原样返回
func TestRewriteIPFS(t *testing.T) {
	assert.Equal(t, "https://example.com/1.json", rewriteIPFS("https://example.com/1.json"))
	assert.Equal(t, "https://ipfs.io/ipfs/QmHash", rewriteIPFS("ipfs://QmHash"))
	assert.Equal(t, "https://ipfs.io/ipfs/QmHash", rewriteIPFS("ipfs://ipfs/QmHash"))
}
