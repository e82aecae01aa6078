package marketplace

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/fpluis/flipance-sub000/internal/model"
)

// seaportEventABI Seaport 1.1 事件 ABI
const seaportEventABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":false,"name":"orderHash","type":"bytes32"},
    {"indexed":true,"name":"offerer","type":"address"},
    {"indexed":true,"name":"zone","type":"address"},
    {"indexed":false,"name":"recipient","type":"address"},
    {"indexed":false,"components":[
      {"name":"itemType","type":"uint8"},
      {"name":"token","type":"address"},
      {"name":"identifier","type":"uint256"},
      {"name":"amount","type":"uint256"}],
     "name":"offer","type":"tuple[]"},
    {"indexed":false,"components":[
      {"name":"itemType","type":"uint8"},
      {"name":"token","type":"address"},
      {"name":"identifier","type":"uint256"},
      {"name":"amount","type":"uint256"},
      {"name":"recipient","type":"address"}],
     "name":"consideration","type":"tuple[]"}],
   "name":"OrderFulfilled","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"name":"orderHash","type":"bytes32"},
    {"indexed":true,"name":"offerer","type":"address"},
    {"indexed":true,"name":"zone","type":"address"}],
   "name":"OrderCancelled","type":"event"}
]`

// Seaport item type 枚举
const (
	seaportItemNative  = 0
	seaportItemERC20   = 1
	seaportItemERC721  = 2
	seaportItemERC1155 = 3
)

var (
	seaportABI            abi.ABI
	topicOrderFulfilled   common.Hash
	topicOrderCancelled   common.Hash
	seaportContract       = common.HexToAddress("0x00000000006c3852cbEf3e08E8df289169ede581")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(seaportEventABI))
	if err != nil {
		panic(fmt.Sprintf("parse seaport ABI: %v", err))
	}
	seaportABI = parsed
	topicOrderFulfilled = seaportABI.Events["OrderFulfilled"].ID
	topicOrderCancelled = seaportABI.Events["OrderCancelled"].ID
}

type seaportSpentItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

type seaportReceivedItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	Recipient  common.Address
}

type seaportOrderFulfilled struct {
	OrderHash     [32]byte
	Recipient     common.Address
	Offer         []seaportSpentItem
	Consideration []seaportReceivedItem
}

type seaportOrderCancelled struct {
	OrderHash [32]byte
}

// SeaportParser openSea 的 Seaport 1.1 结算事件解析器
type SeaportParser struct{}

func NewSeaportParser() *SeaportParser {
	return &SeaportParser{}
}

func (p *SeaportParser) Marketplace() model.Marketplace {
	return model.MarketplaceOpenSea
}

func (p *SeaportParser) Contract() common.Address {
	return seaportContract
}

func (p *SeaportParser) Topics() []common.Hash {
	return []common.Hash{topicOrderFulfilled, topicOrderCancelled}
}

// ScanDirection Seaport 先发结算事件后发转移日志
func (p *SeaportParser) ScanDirection() ScanDirection {
	return ScanForward
}

// ParseLog 解码 OrderFulfilled / OrderCancelled。
//
// NFT 在 offer 侧说明卖家挂单被吃 (acceptAsk)，在 consideration 侧
// 说明买家报价被接受 (acceptOffer)，角色映射随之翻转。
func (p *SeaportParser) ParseLog(log types.Log) (*RawEvent, error) {
	if len(log.Topics) != 3 {
		return nil, ErrMalformedLog
	}
	offerer := common.BytesToAddress(log.Topics[1].Bytes())

	switch log.Topics[0] {
	case topicOrderFulfilled:
		var ev seaportOrderFulfilled
		if err := seaportABI.UnpackIntoInterface(&ev, "OrderFulfilled", log.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}
		return p.buildFulfilled(log, offerer, &ev)

	case topicOrderCancelled:
		var ev seaportOrderCancelled
		if err := seaportABI.UnpackIntoInterface(&ev, "OrderCancelled", log.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}
		return &RawEvent{
			Marketplace: model.MarketplaceOpenSea,
			EventType:   model.EventTypeCancelOrder,
			OrderHash:   hashPtr(common.Hash(ev.OrderHash)),
			TxHash:      hashPtr(log.TxHash),
			Initiator:   addrPtr(offerer),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}, nil
	}
	return nil, ErrUnknownTopic
}

func (p *SeaportParser) buildFulfilled(log types.Log, offerer common.Address, ev *seaportOrderFulfilled) (*RawEvent, error) {
	raw := &RawEvent{
		Marketplace: model.MarketplaceOpenSea,
		OrderHash:   hashPtr(common.Hash(ev.OrderHash)),
		TxHash:      hashPtr(log.TxHash),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}

	// offer 侧找 NFT: 找到即卖单成交
	for _, item := range ev.Offer {
		if item.ItemType != seaportItemERC721 && item.ItemType != seaportItemERC1155 {
			continue
		}
		raw.EventType = model.EventTypeAcceptAsk
		raw.OrderType = model.OrderTypeAsk
		raw.Collection = item.Token.Hex()
		raw.TokenID = strPtr(item.Identifier.String())
		raw.Standard = seaportStandard(item.ItemType)
		raw.Amount = item.Amount.Int64()
		raw.Seller = addrPtr(offerer)
		raw.Buyer = addrPtr(ev.Recipient)
		raw.Initiator = addrPtr(ev.Recipient)

		total := new(big.Int)
		for _, c := range ev.Consideration {
			if c.ItemType == seaportItemNative || c.ItemType == seaportItemERC20 {
				total.Add(total, c.Amount)
			}
		}
		raw.Price = weiToEther(decimal.NewFromBigInt(total, 0))
		return raw, nil
	}

	// consideration 侧找 NFT: 报价被接受
	for _, item := range ev.Consideration {
		if item.ItemType != seaportItemERC721 && item.ItemType != seaportItemERC1155 {
			continue
		}
		raw.EventType = model.EventTypeAcceptOffer
		raw.OrderType = model.OrderTypeBid
		raw.Collection = item.Token.Hex()
		raw.TokenID = strPtr(item.Identifier.String())
		raw.Standard = seaportStandard(item.ItemType)
		raw.Amount = item.Amount.Int64()
		raw.Buyer = addrPtr(offerer)
		raw.Seller = addrPtr(ev.Recipient)
		raw.Initiator = addrPtr(ev.Recipient)

		total := new(big.Int)
		for _, o := range ev.Offer {
			if o.ItemType == seaportItemNative || o.ItemType == seaportItemERC20 {
				total.Add(total, o.Amount)
			}
		}
		raw.Price = weiToEther(decimal.NewFromBigInt(total, 0))
		return raw, nil
	}

	// 纯代币换代币的单子不属于 NFT 事件
	return nil, ErrMalformedLog
}

func seaportStandard(itemType uint8) model.Standard {
	if itemType == seaportItemERC1155 {
		return model.StandardERC1155
	}
	return model.StandardERC721
}
