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

// looksRareEventABI LooksRare v1 交易所事件 ABI
const looksRareEventABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":false,"name":"orderHash","type":"bytes32"},
    {"indexed":false,"name":"orderNonce","type":"uint256"},
    {"indexed":true,"name":"taker","type":"address"},
    {"indexed":true,"name":"maker","type":"address"},
    {"indexed":true,"name":"strategy","type":"address"},
    {"indexed":false,"name":"currency","type":"address"},
    {"indexed":false,"name":"collection","type":"address"},
    {"indexed":false,"name":"tokenId","type":"uint256"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"price","type":"uint256"}],
   "name":"TakerBid","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"name":"orderHash","type":"bytes32"},
    {"indexed":false,"name":"orderNonce","type":"uint256"},
    {"indexed":true,"name":"taker","type":"address"},
    {"indexed":true,"name":"maker","type":"address"},
    {"indexed":true,"name":"strategy","type":"address"},
    {"indexed":false,"name":"currency","type":"address"},
    {"indexed":false,"name":"collection","type":"address"},
    {"indexed":false,"name":"tokenId","type":"uint256"},
    {"indexed":false,"name":"amount","type":"uint256"},
    {"indexed":false,"name":"price","type":"uint256"}],
   "name":"TakerAsk","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"name":"user","type":"address"},
    {"indexed":false,"name":"orderNonces","type":"uint256[]"}],
   "name":"CancelMultipleOrders","type":"event"}
]`

var (
	looksRareABI           abi.ABI
	topicTakerBid          common.Hash
	topicTakerAsk          common.Hash
	topicCancelMultiple    common.Hash
	looksRareContract      = common.HexToAddress("0x59728544B08AB483533076417FbBB2fD0B17CE3a")
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(looksRareEventABI))
	if err != nil {
		panic(fmt.Sprintf("parse looksrare ABI: %v", err))
	}
	looksRareABI = parsed
	topicTakerBid = looksRareABI.Events["TakerBid"].ID
	topicTakerAsk = looksRareABI.Events["TakerAsk"].ID
	topicCancelMultiple = looksRareABI.Events["CancelMultipleOrders"].ID
}

type looksRareTaker struct {
	OrderHash  [32]byte
	OrderNonce *big.Int
	Currency   common.Address
	Collection common.Address
	TokenId    *big.Int
	Amount     *big.Int
	Price      *big.Int
}

// LooksRareParser looksRare v1 交易所事件解析器
type LooksRareParser struct{}

func NewLooksRareParser() *LooksRareParser {
	return &LooksRareParser{}
}

func (p *LooksRareParser) Marketplace() model.Marketplace {
	return model.MarketplaceLooksRare
}

func (p *LooksRareParser) Contract() common.Address {
	return looksRareContract
}

func (p *LooksRareParser) Topics() []common.Hash {
	return []common.Hash{topicTakerBid, topicTakerAsk, topicCancelMultiple}
}

// ScanDirection LooksRare 转移日志在结算事件之前
func (p *LooksRareParser) ScanDirection() ScanDirection {
	return ScanBackward
}

// ParseLog 解码 TakerBid / TakerAsk / CancelMultipleOrders。
//
// 事件名以 taker 视角命名: TakerBid 是买家吃掉卖单 (acceptAsk)，
// TakerAsk 是卖家把 NFT 卖进买家报价 (acceptOffer)。
func (p *LooksRareParser) ParseLog(log types.Log) (*RawEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrMalformedLog
	}

	switch log.Topics[0] {
	case topicTakerBid, topicTakerAsk:
		if len(log.Topics) != 4 {
			return nil, ErrMalformedLog
		}
		taker := common.BytesToAddress(log.Topics[1].Bytes())
		maker := common.BytesToAddress(log.Topics[2].Bytes())

		name := "TakerBid"
		if log.Topics[0] == topicTakerAsk {
			name = "TakerAsk"
		}
		var ev looksRareTaker
		if err := looksRareABI.UnpackIntoInterface(&ev, name, log.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}

		raw := &RawEvent{
			Marketplace: model.MarketplaceLooksRare,
			OrderHash:   hashPtr(common.Hash(ev.OrderHash)),
			TxHash:      hashPtr(log.TxHash),
			Collection:  ev.Collection.Hex(),
			TokenID:     strPtr(ev.TokenId.String()),
			Amount:      ev.Amount.Int64(),
			Price:       weiToEther(decimal.NewFromBigInt(ev.Price, 0)),
			Initiator:   addrPtr(taker),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}
		if ev.Amount.Cmp(big.NewInt(1)) > 0 {
			raw.Standard = model.StandardERC1155
		} else {
			raw.Standard = model.StandardERC721
		}

		if log.Topics[0] == topicTakerBid {
			raw.EventType = model.EventTypeAcceptAsk
			raw.OrderType = model.OrderTypeAsk
			raw.Buyer = addrPtr(taker)
			raw.Seller = addrPtr(maker)
		} else {
			raw.EventType = model.EventTypeAcceptOffer
			raw.OrderType = model.OrderTypeBid
			raw.Buyer = addrPtr(maker)
			raw.Seller = addrPtr(taker)
		}
		return raw, nil

	case topicCancelMultiple:
		if len(log.Topics) != 2 {
			return nil, ErrMalformedLog
		}
		user := common.BytesToAddress(log.Topics[1].Bytes())
		// 批量按 nonce 取消，没有单条 order hash
		return &RawEvent{
			Marketplace: model.MarketplaceLooksRare,
			EventType:   model.EventTypeCancelOrder,
			TxHash:      hashPtr(log.TxHash),
			Initiator:   addrPtr(user),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}, nil
	}
	return nil, ErrUnknownTopic
}
