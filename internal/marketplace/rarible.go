package marketplace

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/fpluis/flipance-sub000/internal/model"
)

// raribleEventABI Rarible ExchangeV2 事件 ABI
const raribleEventABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":false,"name":"leftHash","type":"bytes32"},
    {"indexed":false,"name":"rightHash","type":"bytes32"},
    {"indexed":false,"name":"leftMaker","type":"address"},
    {"indexed":false,"name":"rightMaker","type":"address"},
    {"indexed":false,"name":"newLeftFill","type":"uint256"},
    {"indexed":false,"name":"newRightFill","type":"uint256"},
    {"indexed":false,"components":[
      {"name":"assetClass","type":"bytes4"},
      {"name":"data","type":"bytes"}],
     "name":"leftAsset","type":"tuple"},
    {"indexed":false,"components":[
      {"name":"assetClass","type":"bytes4"},
      {"name":"data","type":"bytes"}],
     "name":"rightAsset","type":"tuple"}],
   "name":"Match","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"name":"hash","type":"bytes32"}],
   "name":"Cancel","type":"event"}
]`

var (
	raribleABI      abi.ABI
	topicMatch      common.Hash
	topicCancel     common.Hash
	raribleContract = common.HexToAddress("0x9757F2d2b135150BBeb65308D4a91804107cd8D6")

	// 资产类别判别码 bytes4(keccak256(class))
	assetClassERC721  [4]byte
	assetClassERC1155 [4]byte

	raribleNFTDataArgs abi.Arguments
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(raribleEventABI))
	if err != nil {
		panic(fmt.Sprintf("parse rarible ABI: %v", err))
	}
	raribleABI = parsed
	topicMatch = raribleABI.Events["Match"].ID
	topicCancel = raribleABI.Events["Cancel"].ID

	copy(assetClassERC721[:], crypto.Keccak256([]byte("ERC721"))[:4])
	copy(assetClassERC1155[:], crypto.Keccak256([]byte("ERC1155"))[:4])

	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	raribleNFTDataArgs = abi.Arguments{
		{Name: "token", Type: addressType},
		{Name: "tokenId", Type: uint256Type},
	}
}

type raribleAsset struct {
	AssetClass [4]byte
	Data       []byte
}

type raribleMatch struct {
	LeftHash     [32]byte
	RightHash    [32]byte
	LeftMaker    common.Address
	RightMaker   common.Address
	NewLeftFill  *big.Int
	NewRightFill *big.Int
	LeftAsset    raribleAsset
	RightAsset   raribleAsset
}

type raribleCancel struct {
	Hash [32]byte
}

// RaribleParser rarible ExchangeV2 事件解析器
type RaribleParser struct{}

func NewRaribleParser() *RaribleParser {
	return &RaribleParser{}
}

func (p *RaribleParser) Marketplace() model.Marketplace {
	return model.MarketplaceRarible
}

func (p *RaribleParser) Contract() common.Address {
	return raribleContract
}

func (p *RaribleParser) Topics() []common.Hash {
	return []common.Hash{topicMatch, topicCancel}
}

// ScanDirection ExchangeV2 先转移资产再发 Match
func (p *RaribleParser) ScanDirection() ScanDirection {
	return ScanBackward
}

// ParseLog 解码 Match / Cancel。
//
// Match 是双向订单撮合，NFT 在左侧说明左方挂单卖出 (acceptAsk)，
// 在右侧说明左方付款吃掉买单 (acceptOffer)。
func (p *RaribleParser) ParseLog(log types.Log) (*RawEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrMalformedLog
	}

	switch log.Topics[0] {
	case topicMatch:
		var ev raribleMatch
		if err := raribleABI.UnpackIntoInterface(&ev, "Match", log.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}
		return p.buildMatch(log, &ev)

	case topicCancel:
		var ev raribleCancel
		if err := raribleABI.UnpackIntoInterface(&ev, "Cancel", log.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
		}
		return &RawEvent{
			Marketplace: model.MarketplaceRarible,
			EventType:   model.EventTypeCancelOrder,
			OrderHash:   hashPtr(common.Hash(ev.Hash)),
			TxHash:      hashPtr(log.TxHash),
			BlockNumber: log.BlockNumber,
			LogIndex:    log.Index,
		}, nil
	}
	return nil, ErrUnknownTopic
}

func (p *RaribleParser) buildMatch(log types.Log, ev *raribleMatch) (*RawEvent, error) {
	raw := &RawEvent{
		Marketplace: model.MarketplaceRarible,
		TxHash:      hashPtr(log.TxHash),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
	}

	switch {
	case isRaribleNFT(ev.LeftAsset.AssetClass):
		collection, tokenID, err := decodeRaribleNFTData(ev.LeftAsset.Data)
		if err != nil {
			return nil, err
		}
		raw.EventType = model.EventTypeAcceptAsk
		raw.OrderType = model.OrderTypeAsk
		raw.OrderHash = hashPtr(common.Hash(ev.LeftHash))
		raw.Collection = collection.Hex()
		raw.TokenID = strPtr(tokenID.String())
		raw.Standard = raribleStandard(ev.LeftAsset.AssetClass)
		raw.Seller = addrPtr(ev.LeftMaker)
		raw.Buyer = addrPtr(ev.RightMaker)
		raw.Initiator = addrPtr(ev.RightMaker)
		raw.Amount = ev.NewRightFill.Int64()
		raw.Price = weiToEther(decimal.NewFromBigInt(ev.NewLeftFill, 0))
		return raw, nil

	case isRaribleNFT(ev.RightAsset.AssetClass):
		collection, tokenID, err := decodeRaribleNFTData(ev.RightAsset.Data)
		if err != nil {
			return nil, err
		}
		raw.EventType = model.EventTypeAcceptOffer
		raw.OrderType = model.OrderTypeBid
		raw.OrderHash = hashPtr(common.Hash(ev.LeftHash))
		raw.Collection = collection.Hex()
		raw.TokenID = strPtr(tokenID.String())
		raw.Standard = raribleStandard(ev.RightAsset.AssetClass)
		raw.Buyer = addrPtr(ev.LeftMaker)
		raw.Seller = addrPtr(ev.RightMaker)
		raw.Initiator = addrPtr(ev.RightMaker)
		raw.Amount = ev.NewLeftFill.Int64()
		raw.Price = weiToEther(decimal.NewFromBigInt(ev.NewRightFill, 0))
		return raw, nil
	}

	return nil, ErrMalformedLog
}

func isRaribleNFT(class [4]byte) bool {
	return class == assetClassERC721 || class == assetClassERC1155
}

func raribleStandard(class [4]byte) model.Standard {
	if class == assetClassERC1155 {
		return model.StandardERC1155
	}
	return model.StandardERC721
}

// decodeRaribleNFTData 解出 asset data 里的 (token, tokenId)
func decodeRaribleNFTData(data []byte) (common.Address, *big.Int, error) {
	values, err := raribleNFTDataArgs.Unpack(data)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	token, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, ErrMalformedLog
	}
	tokenID, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, ErrMalformedLog
	}
	return token, tokenID, nil
}
