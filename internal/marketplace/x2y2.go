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

// x2y2EventABI X2Y2 交易所事件 ABI。
// item.data 是内部编码的 token 对，不在这里展开，
// collection/tokenId 交给回执转移扫描补全。
const x2y2EventABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"itemHash","type":"bytes32"},
    {"indexed":false,"name":"maker","type":"address"},
    {"indexed":false,"name":"taker","type":"address"},
    {"indexed":false,"name":"orderSalt","type":"uint256"},
    {"indexed":false,"name":"settleSalt","type":"uint256"},
    {"indexed":false,"name":"intent","type":"uint256"},
    {"indexed":false,"name":"delegateType","type":"uint256"},
    {"indexed":false,"name":"deadline","type":"uint256"},
    {"indexed":false,"name":"currency","type":"address"},
    {"indexed":false,"name":"dataMask","type":"bytes"},
    {"indexed":false,"components":[
      {"name":"price","type":"uint256"},
      {"name":"data","type":"bytes"}],
     "name":"item","type":"tuple"},
    {"indexed":false,"components":[
      {"name":"op","type":"uint8"},
      {"name":"orderIdx","type":"uint256"},
      {"name":"itemIdx","type":"uint256"},
      {"name":"price","type":"uint256"},
      {"name":"itemHash","type":"bytes32"},
      {"name":"executionDelegate","type":"address"},
      {"name":"dataReplacement","type":"bytes"},
      {"name":"bidIncentivePct","type":"uint256"},
      {"name":"aucMinIncrementPct","type":"uint256"},
      {"name":"aucIncDurationSecs","type":"uint256"},
      {"name":"fees","type":"tuple[]","components":[
        {"name":"percentage","type":"uint256"},
        {"name":"to","type":"address"}]}],
     "name":"detail","type":"tuple"}],
   "name":"EvInventory","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"itemHash","type":"bytes32"}],
   "name":"EvCancel","type":"event"}
]`

// X2Y2 订单意图编码
const (
	x2y2IntentSell    = 1
	x2y2IntentAuction = 2
	x2y2IntentBuy     = 3
)

var (
	x2y2ABI          abi.ABI
	topicEvInventory common.Hash
	topicEvCancel    common.Hash
	x2y2Contract     = common.HexToAddress("0x74312363e45DCaBA76c59ec49a7Aa8A65a67EeD3")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(x2y2EventABI))
	if err != nil {
		panic(fmt.Sprintf("parse x2y2 ABI: %v", err))
	}
	x2y2ABI = parsed
	topicEvInventory = x2y2ABI.Events["EvInventory"].ID
	topicEvCancel = x2y2ABI.Events["EvCancel"].ID
}

type x2y2Fee struct {
	Percentage *big.Int
	To         common.Address
}

type x2y2OrderItem struct {
	Price *big.Int
	Data  []byte
}

type x2y2SettleDetail struct {
	Op                 uint8
	OrderIdx           *big.Int
	ItemIdx            *big.Int
	Price              *big.Int
	ItemHash           [32]byte
	ExecutionDelegate  common.Address
	DataReplacement    []byte
	BidIncentivePct    *big.Int
	AucMinIncrementPct *big.Int
	AucIncDurationSecs *big.Int
	Fees               []x2y2Fee
}

type x2y2Inventory struct {
	Maker        common.Address
	Taker        common.Address
	OrderSalt    *big.Int
	SettleSalt   *big.Int
	Intent       *big.Int
	DelegateType *big.Int
	Deadline     *big.Int
	Currency     common.Address
	DataMask     []byte
	Item         x2y2OrderItem
	Detail       x2y2SettleDetail
}

// X2Y2Parser x2y2 交易所事件解析器
type X2Y2Parser struct{}

func NewX2Y2Parser() *X2Y2Parser {
	return &X2Y2Parser{}
}

func (p *X2Y2Parser) Marketplace() model.Marketplace {
	return model.MarketplaceX2Y2
}

func (p *X2Y2Parser) Contract() common.Address {
	return x2y2Contract
}

func (p *X2Y2Parser) Topics() []common.Hash {
	return []common.Hash{topicEvInventory, topicEvCancel}
}

// ScanDirection X2Y2 转移日志在结算事件之前
func (p *X2Y2Parser) ScanDirection() ScanDirection {
	return ScanBackward
}

// ParseLog 解码 EvInventory / EvCancel。
//
// intent 决定角色方向: INTENT_BUY 是 maker 出价被接受 (acceptOffer)，
// 其余是 maker 挂单被买走 (acceptAsk)。成交价取 detail.price，
// 拍卖场景下 item.price 只是起拍价。
func (p *X2Y2Parser) ParseLog(log types.Log) (*RawEvent, error) {
	if len(log.Topics) != 2 {
		return nil, ErrMalformedLog
	}
	itemHash := log.Topics[1]

	switch log.Topics[0] {
	case topicEvInventory:
		var ev x2y2Inventory
		if err := x2y2ABI.UnpackIntoInterface(&ev, "EvInventory", log.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}

		raw := &RawEvent{
			Marketplace: model.MarketplaceX2Y2,
			OrderHash:   hashPtr(itemHash),
			TxHash:      hashPtr(log.TxHash),
			Price:       weiToEther(decimal.NewFromBigInt(ev.Detail.Price, 0)),
			Amount:      1,
			Initiator:   addrPtr(ev.Taker),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}
		if ev.Intent.Int64() == x2y2IntentBuy {
			raw.EventType = model.EventTypeAcceptOffer
			raw.OrderType = model.OrderTypeBid
			raw.Buyer = addrPtr(ev.Maker)
			raw.Seller = addrPtr(ev.Taker)
		} else {
			raw.EventType = model.EventTypeAcceptAsk
			raw.OrderType = model.OrderTypeAsk
			raw.Buyer = addrPtr(ev.Taker)
			raw.Seller = addrPtr(ev.Maker)
		}
		return raw, nil

	case topicEvCancel:
		return &RawEvent{
			Marketplace: model.MarketplaceX2Y2,
			EventType:   model.EventTypeCancelOrder,
			OrderHash:   hashPtr(itemHash),
			TxHash:      hashPtr(log.TxHash),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}, nil
	}
	return nil, ErrUnknownTopic
}
