package marketplace

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/fpluis/flipance-sub000/internal/model"
)

// foundationEventABI Foundation 保留价拍卖事件 ABI
const foundationEventABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"seller","type":"address"},
    {"indexed":true,"name":"nftContract","type":"address"},
    {"indexed":true,"name":"tokenId","type":"uint256"},
    {"indexed":false,"name":"duration","type":"uint256"},
    {"indexed":false,"name":"extensionDuration","type":"uint256"},
    {"indexed":false,"name":"reservePrice","type":"uint256"},
    {"indexed":false,"name":"auctionId","type":"uint256"}],
   "name":"ReserveAuctionCreated","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"auctionId","type":"uint256"},
    {"indexed":true,"name":"bidder","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"endTime","type":"uint256"}],
   "name":"ReserveAuctionBidPlaced","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"auctionId","type":"uint256"},
    {"indexed":true,"name":"seller","type":"address"},
    {"indexed":true,"name":"bidder","type":"address"},
    {"indexed":false,"name":"f8nFee","type":"uint256"},
    {"indexed":false,"name":"creatorFee","type":"uint256"},
    {"indexed":false,"name":"ownerRev","type":"uint256"}],
   "name":"ReserveAuctionFinalized","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"auctionId","type":"uint256"}],
   "name":"ReserveAuctionCanceled","type":"event"}
]`

// foundationAuctionCacheSize 在途拍卖上限。
// 保留价拍卖 24 小时内必然结束，活跃数量远小于此。
const foundationAuctionCacheSize = 4096

var (
	foundationABI          abi.ABI
	topicAuctionCreated    common.Hash
	topicAuctionBidPlaced  common.Hash
	topicAuctionFinalized  common.Hash
	topicAuctionCanceled   common.Hash
	foundationContract     = common.HexToAddress("0xcDA72070E455bb31C7690a170224Ce43623d0B6f")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(foundationEventABI))
	if err != nil {
		panic(fmt.Sprintf("parse foundation ABI: %v", err))
	}
	foundationABI = parsed
	topicAuctionCreated = foundationABI.Events["ReserveAuctionCreated"].ID
	topicAuctionBidPlaced = foundationABI.Events["ReserveAuctionBidPlaced"].ID
	topicAuctionFinalized = foundationABI.Events["ReserveAuctionFinalized"].ID
	topicAuctionCanceled = foundationABI.Events["ReserveAuctionCanceled"].ID
}

// foundationAuction 在途拍卖的 token 归属
type foundationAuction struct {
	Collection common.Address
	TokenID    string
	Seller     common.Address
}

// FoundationParser foundation 保留价拍卖事件解析器。
//
// 创建之后的生命周期事件只带 auctionId，token 归属在创建时
// 记入有界缓存，后续事件从缓存回查。服务重启后丢失的在途拍卖
// 只能解出缺少 token 信息的事件，结算事件仍可由转移扫描补全。
type FoundationParser struct {
	auctions *lru.Cache[string, foundationAuction]
}

func NewFoundationParser() *FoundationParser {
	cache, err := lru.New[string, foundationAuction](foundationAuctionCacheSize)
	if err != nil {
		panic(fmt.Sprintf("foundation auction cache: %v", err))
	}
	return &FoundationParser{auctions: cache}
}

func (p *FoundationParser) Marketplace() model.Marketplace {
	return model.MarketplaceFoundation
}

func (p *FoundationParser) Contract() common.Address {
	return foundationContract
}

func (p *FoundationParser) Topics() []common.Hash {
	return []common.Hash{topicAuctionCreated, topicAuctionBidPlaced, topicAuctionFinalized, topicAuctionCanceled}
}

// ScanDirection Foundation 在 finalize 内部先转移 NFT 再发事件
func (p *FoundationParser) ScanDirection() ScanDirection {
	return ScanBackward
}

func (p *FoundationParser) ParseLog(log types.Log) (*RawEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrMalformedLog
	}

	switch log.Topics[0] {
	case topicAuctionCreated:
		return p.parseCreated(log)
	case topicAuctionBidPlaced:
		return p.parseBidPlaced(log)
	case topicAuctionFinalized:
		return p.parseFinalized(log)
	case topicAuctionCanceled:
		return p.parseCanceled(log)
	}
	return nil, ErrUnknownTopic
}

func (p *FoundationParser) parseCreated(log types.Log) (*RawEvent, error) {
	if len(log.Topics) != 4 || len(log.Data) < 128 {
		return nil, ErrMalformedLog
	}
	seller := common.BytesToAddress(log.Topics[1].Bytes())
	collection := common.BytesToAddress(log.Topics[2].Bytes())
	tokenID := new(big.Int).SetBytes(log.Topics[3].Bytes())

	reservePrice := new(big.Int).SetBytes(log.Data[64:96])
	auctionID := new(big.Int).SetBytes(log.Data[96:128]).String()

	p.auctions.Add(auctionID, foundationAuction{
		Collection: collection,
		TokenID:    tokenID.String(),
		Seller:     seller,
	})

	return &RawEvent{
		Marketplace: model.MarketplaceFoundation,
		EventType:   model.EventTypeCreateAuction,
		TxHash:      hashPtr(log.TxHash),
		Collection:  collection.Hex(),
		TokenID:     strPtr(tokenID.String()),
		Standard:    model.StandardERC721,
		Amount:      1,
		Seller:      addrPtr(seller),
		Initiator:   addrPtr(seller),
		Price:       weiToEther(decimal.NewFromBigInt(reservePrice, 0)),
		OrderType:   model.OrderTypeAsk,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}, nil
}

func (p *FoundationParser) parseBidPlaced(log types.Log) (*RawEvent, error) {
	if len(log.Topics) != 3 || len(log.Data) < 64 {
		return nil, ErrMalformedLog
	}
	auctionID := new(big.Int).SetBytes(log.Topics[1].Bytes()).String()
	bidder := common.BytesToAddress(log.Topics[2].Bytes())
	amount := new(big.Int).SetBytes(log.Data[:32])
	endTime := new(big.Int).SetBytes(log.Data[32:64]).Int64()

	raw := &RawEvent{
		Marketplace: model.MarketplaceFoundation,
		EventType:   model.EventTypePlaceBid,
		TxHash:      hashPtr(log.TxHash),
		Standard:    model.StandardERC721,
		Amount:      1,
		Buyer:       addrPtr(bidder),
		Initiator:   addrPtr(bidder),
		Price:       weiToEther(decimal.NewFromBigInt(amount, 0)),
		EndsAt:      time.Unix(endTime, 0),
		OrderType:   model.OrderTypeBid,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
	if auction, ok := p.auctions.Get(auctionID); ok {
		raw.Collection = auction.Collection.Hex()
		raw.TokenID = strPtr(auction.TokenID)
		raw.Seller = addrPtr(auction.Seller)
	}
	return raw, nil
}

func (p *FoundationParser) parseFinalized(log types.Log) (*RawEvent, error) {
	if len(log.Topics) != 4 || len(log.Data) < 96 {
		return nil, ErrMalformedLog
	}
	auctionID := new(big.Int).SetBytes(log.Topics[1].Bytes()).String()
	seller := common.BytesToAddress(log.Topics[2].Bytes())
	bidder := common.BytesToAddress(log.Topics[3].Bytes())

	// 成交价是三路分账之和
	total := new(big.Int).SetBytes(log.Data[:32])
	total.Add(total, new(big.Int).SetBytes(log.Data[32:64]))
	total.Add(total, new(big.Int).SetBytes(log.Data[64:96]))

	raw := &RawEvent{
		Marketplace: model.MarketplaceFoundation,
		EventType:   model.EventTypeSettleAuction,
		TxHash:      hashPtr(log.TxHash),
		Standard:    model.StandardERC721,
		Amount:      1,
		Buyer:       addrPtr(bidder),
		Seller:      addrPtr(seller),
		Initiator:   addrPtr(bidder),
		Price:       weiToEther(decimal.NewFromBigInt(total, 0)),
		OrderType:   model.OrderTypeAsk,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
	if auction, ok := p.auctions.Get(auctionID); ok {
		raw.Collection = auction.Collection.Hex()
		raw.TokenID = strPtr(auction.TokenID)
		p.auctions.Remove(auctionID)
	}
	return raw, nil
}

func (p *FoundationParser) parseCanceled(log types.Log) (*RawEvent, error) {
	if len(log.Topics) != 2 {
		return nil, ErrMalformedLog
	}
	auctionID := new(big.Int).SetBytes(log.Topics[1].Bytes()).String()

	raw := &RawEvent{
		Marketplace: model.MarketplaceFoundation,
		EventType:   model.EventTypeCancelOrder,
		TxHash:      hashPtr(log.TxHash),
		Standard:    model.StandardERC721,
		OrderType:   model.OrderTypeAsk,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}
	if auction, ok := p.auctions.Get(auctionID); ok {
		raw.Collection = auction.Collection.Hex()
		raw.TokenID = strPtr(auction.TokenID)
		raw.Seller = addrPtr(auction.Seller)
		raw.Initiator = addrPtr(auction.Seller)
		p.auctions.Remove(auctionID)
	}
	return raw, nil
}
