// Package cache 提供地板价/最高报价的 Redis 热镜像。
//
// 数据库仓储是权威存储，这里只做读路径的直写镜像，
// 丢失后可由下一轮轮询重建。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fpluis/flipance-sub000/internal/model"
)

const (
	// KeyCollectionFloor 集合地板价，flipance:floor:{collection}
	KeyCollectionFloor = "flipance:floor:%s"

	// KeyBestOffer 最高报价，flipance:offer:{collection}:{tokenId}
	// tokenId 为空串表示集合级报价
	KeyBestOffer = "flipance:offer:%s:%s"

	// DefaultPriceTTL 镜像过期时间，轮询周期内必然刷新
	DefaultPriceTTL = 24 * time.Hour
)

// PriceCache 价格状态 Redis 镜像
type PriceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewPriceCache 创建价格镜像
func NewPriceCache(client redis.UniversalClient) *PriceCache {
	return &PriceCache{
		client: client,
		ttl:    DefaultPriceTTL,
	}
}

// SetFloor 直写集合当前地板挂单
func (c *PriceCache) SetFloor(ctx context.Context, floor *model.CollectionFloor) error {
	key := fmt.Sprintf(KeyCollectionFloor, floor.Collection)

	data, err := json.Marshal(floor)
	if err != nil {
		return fmt.Errorf("marshal floor: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set floor: %w", err)
	}
	return nil
}

// GetFloor 读取集合当前地板挂单，未命中返回 nil
func (c *PriceCache) GetFloor(ctx context.Context, collection string) (*model.CollectionFloor, error) {
	key := fmt.Sprintf(KeyCollectionFloor, collection)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get floor: %w", err)
	}

	var floor model.CollectionFloor
	if err := json.Unmarshal(data, &floor); err != nil {
		return nil, fmt.Errorf("unmarshal floor: %w", err)
	}
	return &floor, nil
}

// SetOffer 直写当前最高报价
func (c *PriceCache) SetOffer(ctx context.Context, offer *model.Offer) error {
	key := fmt.Sprintf(KeyBestOffer, offer.Collection, offer.TokenID)

	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set offer: %w", err)
	}
	return nil
}

// GetOffer 读取当前最高报价，未命中返回 nil
func (c *PriceCache) GetOffer(ctx context.Context, collection, tokenID string) (*model.Offer, error) {
	key := fmt.Sprintf(KeyBestOffer, collection, tokenID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}

	var offer model.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, fmt.Errorf("unmarshal offer: %w", err)
	}
	return &offer, nil
}
