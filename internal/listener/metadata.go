package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var ErrNoMetadata = errors.New("token metadata unavailable")

// 函数选择器 bytes4(keccak256(sig))
var (
	selectorTokenURI = common.Hex2Bytes("c87b56dd") // tokenURI(uint256)
	selectorURI      = common.Hex2Bytes("0e89341c") // uri(uint256)

	// topicURIEvent ERC-1155 URI(string value, uint256 indexed id)
	topicURIEvent = crypto.Keccak256Hash([]byte("URI(string,uint256)"))

	stringReturnArgs abi.Arguments
)

// DefaultMetadataCacheSize 默认元数据缓存容量
const DefaultMetadataCacheSize = 8192

func init() {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	stringReturnArgs = abi.Arguments{{Type: stringType}}
}

// ContractCaller 只读合约调用与日志回查 (Client 的最小子集)
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// MetadataFetcher 读取并缓存 token 元数据 URI。
//
// 元数据不可变，按 collection/tokenId 做 LRU 缓存。
// 读取失败不阻断事件入库，调用方按缺失处理。
type MetadataFetcher struct {
	caller ContractCaller
	cache  *lru.Cache[string, string]
}

// NewMetadataFetcher 创建元数据读取器
func NewMetadataFetcher(caller ContractCaller, cacheSize int) (*MetadataFetcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultMetadataCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &MetadataFetcher{caller: caller, cache: cache}, nil
}

// TokenURI 返回 token 的元数据 URI。
//
// ERC-721 调 tokenURI(uint256)，ERC-1155 调 uri(uint256)
// 并替换 {id} 占位符为 64 位零填充小写十六进制 id。
// 不实现 uri(uint256) 的 ERC-1155 合约回查历史 URI 事件，
// 取最近一次设置的值。
func (f *MetadataFetcher) TokenURI(ctx context.Context, collection common.Address, tokenID *big.Int, standard model.Standard) (string, error) {
	key := collection.Hex() + "/" + tokenID.String()
	if uri, ok := f.cache.Get(key); ok {
		return uri, nil
	}

	uri, err := f.callURI(ctx, collection, tokenID, standard)
	if err != nil && standard == model.StandardERC1155 {
		uri, err = f.uriFromLogs(ctx, collection, tokenID)
	}
	if err != nil {
		return "", err
	}

	if standard == model.StandardERC1155 {
		uri = strings.ReplaceAll(uri, "{id}", fmt.Sprintf("%064x", tokenID))
	}
	uri = rewriteIPFS(uri)

	f.cache.Add(key, uri)
	return uri, nil
}

// callURI 走合约只读调用读 URI
func (f *MetadataFetcher) callURI(ctx context.Context, collection common.Address, tokenID *big.Int, standard model.Standard) (string, error) {
	selector := selectorTokenURI
	if standard == model.StandardERC1155 {
		selector = selectorURI
	}

	data := make([]byte, 0, 36)
	data = append(data, selector...)
	data = append(data, common.BigToHash(tokenID).Bytes()...)

	result, err := f.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &collection,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}
	return decodeStringReturn(result)
}

// uriFromLogs 回查合约的 URI 事件日志，id 作为索引主题过滤
func (f *MetadataFetcher) uriFromLogs(ctx context.Context, collection common.Address, tokenID *big.Int) (string, error) {
	logs, err := f.caller.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{collection},
		Topics:    [][]common.Hash{{topicURIEvent}, {common.BigToHash(tokenID)}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}
	if len(logs) == 0 {
		return "", ErrNoMetadata
	}
	return decodeStringReturn(logs[len(logs)-1].Data)
}

func decodeStringReturn(result []byte) (string, error) {
	values, err := stringReturnArgs.Unpack(result)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMetadata, err)
	}
	uri, ok := values[0].(string)
	if !ok || uri == "" {
		return "", ErrNoMetadata
	}
	return uri, nil
}

// rewriteIPFS ipfs:// 改写为公共网关 URL
func rewriteIPFS(uri string) string {
	if path, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		path = strings.TrimPrefix(path, "ipfs/")
		return "https://ipfs.io/ipfs/" + path
	}
	return uri
}
