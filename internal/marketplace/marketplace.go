// Package marketplace 封装各市场结算合约的事件解析规则。
//
// 每个市场的买卖双方角色映射、扫描方向与取消语义互不相同，
// 统一收敛到 Parser 接口，监听器不做任何按市场分支的判断。
package marketplace

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var (
	ErrUnknownTopic = errors.New("log topic not handled by this parser")
	ErrMalformedLog = errors.New("malformed settlement log")
)

// ScanDirection 回执内转移日志的扫描方向。
//
// Seaport 风格合约先发结算事件再发转移日志，需要从结算日志向前扫;
// LooksRare/X2Y2 风格合约相反。方向扫错会把错误的转移挂到事件上。
type ScanDirection int

const (
	ScanForward ScanDirection = iota
	ScanBackward
)

// RawEvent 市场事件的解析中间态 (规范化前)
type RawEvent struct {
	Marketplace model.Marketplace
	EventType   model.EventType
	OrderHash   *string
	TxHash      *string

	Collection string
	TokenID    *string
	Standard   model.Standard

	Buyer        *string
	Seller       *string
	Initiator    *string
	Intermediary *string

	Price     decimal.Decimal // 原生币单位
	Gas       decimal.Decimal
	Amount    int64
	StartsAt  time.Time
	EndsAt    time.Time
	OrderType model.OrderType

	BlockNumber uint64
	LogIndex    uint
	Timestamp   time.Time
}

// Parser 单个市场的结算/取消/拍卖事件解析器
type Parser interface {
	Marketplace() model.Marketplace
	Contract() common.Address
	// Topics 返回该市场需要订阅的全部事件主题
	Topics() []common.Hash
	// ParseLog 解码一条结算合约日志; 不属于本解析器的主题返回 ErrUnknownTopic
	ParseLog(log types.Log) (*RawEvent, error)
	ScanDirection() ScanDirection
}

// weiToEther wei 转原生币单位
func weiToEther(wei decimal.Decimal) decimal.Decimal {
	return wei.Shift(-18)
}

func strPtr(s string) *string {
	return &s
}

func addrPtr(a common.Address) *string {
	s := a.Hex()
	return &s
}

func hashPtr(h common.Hash) *string {
	s := h.Hex()
	return &s
}
