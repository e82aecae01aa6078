package marketplace

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNoTransferFound 回执内未找到配套的 NFT 转移日志
	ErrNoTransferFound = errors.New("no matching NFT transfer log in receipt")

	topicERC721Transfer        = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	topicERC1155TransferSingle = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))

	// openSeaSharedStorefront 共享铸造合约是 ERC-1155，token id 总在 data 里
	openSeaSharedStorefront = common.HexToAddress("0x495f947276749Ce646f68AC8c248420045cb7b5e")

	// aggregatorAddresses 聚合器路由地址。买单经聚合器成交时，
	// 第一跳转移的接收方是聚合器而不是最终买家。
	aggregatorAddresses = map[common.Address]bool{
		common.HexToAddress("0x83C8F28c26bF6aaca652Df1DbBE0e1b56F8baBa2"): true, // GemSwap
		common.HexToAddress("0x0000000000c2d145a2526bD8C716263bFeBe1A72"): true, // Gem
		common.HexToAddress("0x0a267cF51EF038fC00E71801F5a524aec06e4f07"): true, // Genie
	}
)

// TransferDetails 从回执里解出的 NFT 转移明细
type TransferDetails struct {
	Collection common.Address
	TokenID    *big.Int
	Standard   string
	From       common.Address
	To         common.Address
	Amount     int64
	// Intermediary 聚合器中转地址，直购时为空
	Intermediary *common.Address
	LogIndex     uint
}

// parseTransferLog 尝试把一条日志解成 NFT 转移，不是则返回 nil
func parseTransferLog(log *types.Log) *TransferDetails {
	if len(log.Topics) == 0 {
		return nil
	}

	switch log.Topics[0] {
	case topicERC721Transfer:
		// ERC-20 的 Transfer 主题相同但 token id 不进 topics，靠主题数区分。
		// 共享铸造合约把 id 编进 data，按 1155 处理。
		if log.Address == openSeaSharedStorefront {
			if len(log.Topics) < 3 || len(log.Data) < 32 {
				return nil
			}
			return &TransferDetails{
				Collection: log.Address,
				TokenID:    new(big.Int).SetBytes(log.Data[:32]),
				Standard:   "ERC-1155",
				From:       common.BytesToAddress(log.Topics[1].Bytes()),
				To:         common.BytesToAddress(log.Topics[2].Bytes()),
				Amount:     1,
				LogIndex:   log.Index,
			}
		}
		if len(log.Topics) != 4 {
			return nil
		}
		return &TransferDetails{
			Collection: log.Address,
			TokenID:    new(big.Int).SetBytes(log.Topics[3].Bytes()),
			Standard:   "ERC-721",
			From:       common.BytesToAddress(log.Topics[1].Bytes()),
			To:         common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:     1,
			LogIndex:   log.Index,
		}

	case topicERC1155TransferSingle:
		if len(log.Topics) != 4 || len(log.Data) < 64 {
			return nil
		}
		return &TransferDetails{
			Collection: log.Address,
			TokenID:    new(big.Int).SetBytes(log.Data[:32]),
			Standard:   "ERC-1155",
			From:       common.BytesToAddress(log.Topics[2].Bytes()),
			To:         common.BytesToAddress(log.Topics[3].Bytes()),
			Amount:     new(big.Int).SetBytes(log.Data[32:64]).Int64(),
			LogIndex:   log.Index,
		}
	}
	return nil
}

// FindTransfer 从结算日志位置出发，按市场的扫描方向找配套的 NFT 转移。
//
// 接收方是聚合器时继续向后找第二跳转移，把最终买家写回 To，
// 聚合器地址记入 Intermediary。
func FindTransfer(logs []*types.Log, settlementIndex uint, dir ScanDirection) (*TransferDetails, error) {
	pos := -1
	for i, log := range logs {
		if log.Index == settlementIndex {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, ErrNoTransferFound
	}

	var details *TransferDetails
	if dir == ScanForward {
		for i := pos + 1; i < len(logs); i++ {
			if details = parseTransferLog(logs[i]); details != nil {
				break
			}
		}
	} else {
		for i := pos - 1; i >= 0; i-- {
			if details = parseTransferLog(logs[i]); details != nil {
				break
			}
		}
	}
	if details == nil {
		return nil, ErrNoTransferFound
	}

	if aggregatorAddresses[details.To] {
		details = rewriteAggregatorHop(logs, details)
	}
	return details, nil
}

// rewriteAggregatorHop 找聚合器转出的第二跳，改写最终接收方
func rewriteAggregatorHop(logs []*types.Log, first *TransferDetails) *TransferDetails {
	for _, log := range logs {
		if log.Index <= first.LogIndex {
			continue
		}
		second := parseTransferLog(log)
		if second == nil {
			continue
		}
		if second.Collection != first.Collection || second.From != first.To {
			continue
		}
		if second.TokenID != nil && first.TokenID != nil && second.TokenID.Cmp(first.TokenID) != 0 {
			continue
		}
		aggregator := first.To
		second.Intermediary = &aggregator
		return second
	}
	// 没找到第二跳就保留第一跳，聚合器地址仍然可见
	return first
}
