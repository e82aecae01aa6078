// Package normalizer 把各来源的原始事件折叠成统一的 NFTEvent 记录。
//
// 规范化只做字段映射和地址小写化，不做任何 IO，
// 幂等校验和时间戳补全在入库层完成。
package normalizer

import (
	"strings"

	"github.com/fpluis/flipance-sub000/internal/marketplace"
	"github.com/fpluis/flipance-sub000/internal/model"
)

// FromChain 把链上解析中间态转成统一事件。
//
// 地址统一小写，watcher 匹配按字符串等值比较，大小写混用会漏配。
func FromChain(raw *marketplace.RawEvent) *model.NFTEvent {
	event := &model.NFTEvent{
		TransactionHash: lowerPtr(raw.TxHash),
		OrderHash:       lowerPtr(raw.OrderHash),
		EventType:       raw.EventType,
		Marketplace:     raw.Marketplace,
		Blockchain:      model.BlockchainEthereum,
		Collection:      strings.ToLower(raw.Collection),
		TokenID:         raw.TokenID,
		Standard:        raw.Standard,
		Buyer:           lowerPtr(raw.Buyer),
		Seller:          lowerPtr(raw.Seller),
		Initiator:       lowerPtr(raw.Initiator),
		Intermediary:    lowerPtr(raw.Intermediary),
		Price:           raw.Price,
		Gas:             raw.Gas,
		Amount:          raw.Amount,
		OrderType:       raw.OrderType,
	}
	if event.Amount <= 0 {
		event.Amount = 1
	}
	if !raw.Timestamp.IsZero() {
		event.StartsAt = raw.Timestamp.UnixMilli()
	}
	if !raw.EndsAt.IsZero() {
		event.EndsAt = raw.EndsAt.UnixMilli()
	}
	return event
}

func lowerPtr(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	lowered := strings.ToLower(*s)
	return &lowered
}
