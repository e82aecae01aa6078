// Package poller 轮询市场 REST 订单簿，给价格状态提供权威数据源。
//
// 对外请求全部经过自适应限速，限速响应做有界随机重试，
// 预算耗尽返回空结果而不是错误，单次坏调用不能拖垮轮询循环。
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fpluis/flipance-sub000/internal/metrics"
	"github.com/fpluis/flipance-sub000/internal/model"
	"github.com/fpluis/flipance-sub000/pkg/logger"

	"go.uber.org/zap"
)

const (
	// rateLimitMessage 订单簿 API 的限速信号
	rateLimitMessage = "Too Many Requests"

	apiKeyHeader = "X-Looks-Api-Key"

	defaultBaseURL    = "https://api.looksrare.org"
	defaultMaxRetries = 3
)

// 事件 feed 的类别
const (
	FeedTypeList        = "LIST"
	FeedTypeOffer       = "OFFER"
	FeedTypeCancelList  = "CANCEL_LIST"
	FeedTypeCancelOffer = "CANCEL_OFFER"
)

var errRateLimited = errors.New("order book rate limited")

// Order 订单簿 wire 结构
type Order struct {
	Hash       string `json:"hash"`
	Collection string `json:"collectionAddress"`
	TokenID    string `json:"tokenId"`
	IsOrderAsk bool   `json:"isOrderAsk"`
	Signer     string `json:"signer"`
	Price      string `json:"price"` // wei
	Amount     int64  `json:"amount"`
	StartTime  int64  `json:"startTime"` // unix 秒
	EndTime    int64  `json:"endTime"`
	Status     string `json:"status"`
}

// Expired 订单是否已过有效期
func (o *Order) Expired(now time.Time) bool {
	return o.EndTime > 0 && time.Unix(o.EndTime, 0).Before(now)
}

// PriceDecimal wei 字符串转原生币单位
func (o *Order) PriceDecimal() decimal.Decimal {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return decimal.Zero
	}
	return price.Shift(-18)
}

// FeedEvent 订单变更 feed 的 wire 结构
type FeedEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	Order     *Order `json:"order"`
}

// apiResponse 订单簿响应包装
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client 订单簿 REST 客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
}

// ClientConfig 配置
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient 创建订单簿客户端
func NewClient(cfg *ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
	}
}

// getJSON 带限速重试的 GET。
// 限速和传输错误随机退避后重试，预算耗尽把最后的错误返回给调用方降级。
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := path
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// 100ms-600ms 随机退避
			backoff := time.Duration(100+rand.Intn(500)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		err := c.doRequest(ctx, path, query, out)
		elapsed := time.Since(start).Seconds()

		switch {
		case err == nil:
			metrics.RecordPollRequest(endpoint, "ok", elapsed)
			return nil
		case errors.Is(err, errRateLimited):
			metrics.RecordPollRequest(endpoint, "rate_limited", elapsed)
			lastErr = err
		default:
			metrics.RecordPollRequest(endpoint, "error", elapsed)
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var wrapped apiResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return fmt.Errorf("decode order book response: %w", err)
	}
	if !wrapped.Success {
		if wrapped.Message == rateLimitMessage {
			return errRateLimited
		}
		return fmt.Errorf("order book error: %s", wrapped.Message)
	}

	return json.Unmarshal(wrapped.Data, out)
}

// GetCollectionFloor 返回集合当前最便宜的有效卖单，没有则返回 nil
func (c *Client) GetCollectionFloor(ctx context.Context, collection string) (*model.CollectionFloor, error) {
	query := url.Values{}
	query.Set("collection", collection)
	query.Set("isOrderAsk", "true")
	query.Add("status[]", "VALID")
	query.Set("sort", "PRICE_ASC")
	query.Set("pagination[first]", "1")

	var orders []Order
	if err := c.getJSON(ctx, "/api/v1/orders", query, &orders); err != nil {
		logger.Warn("floor query failed, treating as empty",
			zap.String("collection", collection),
			zap.Error(err))
		return nil, nil
	}
	if len(orders) == 0 {
		return nil, nil
	}

	order := &orders[0]
	return &model.CollectionFloor{
		Collection:  collection,
		OrderHash:   order.Hash,
		Price:       order.PriceDecimal(),
		Marketplace: model.MarketplaceLooksRare,
		EndsAt:      order.EndTime * 1000,
	}, nil
}

// GetBestOffer 返回集合或单个 token 当前最高的有效买单，没有则返回 nil。
// tokenID 为空表示集合级报价。
func (c *Client) GetBestOffer(ctx context.Context, collection, tokenID string) (*model.Offer, error) {
	query := url.Values{}
	query.Set("collection", collection)
	query.Set("isOrderAsk", "false")
	query.Add("status[]", "VALID")
	query.Set("sort", "PRICE_DESC")
	query.Set("pagination[first]", "1")
	if tokenID != "" {
		query.Set("tokenId", tokenID)
	}

	var orders []Order
	if err := c.getJSON(ctx, "/api/v1/orders", query, &orders); err != nil {
		logger.Warn("offer query failed, treating as empty",
			zap.String("collection", collection),
			zap.String("token_id", tokenID),
			zap.Error(err))
		return nil, nil
	}
	if len(orders) == 0 {
		return nil, nil
	}

	order := &orders[0]
	return &model.Offer{
		Collection:  collection,
		TokenID:     tokenID,
		OrderHash:   order.Hash,
		Price:       order.PriceDecimal(),
		Marketplace: model.MarketplaceLooksRare,
		EndsAt:      order.EndTime * 1000,
	}, nil
}

// PollEvents 拉取一页订单变更 feed
func (c *Client) PollEvents(ctx context.Context, feedType, cursor string) ([]FeedEvent, string, error) {
	query := url.Values{}
	query.Set("type", feedType)
	query.Set("pagination[first]", "150")
	if cursor != "" {
		query.Set("pagination[cursor]", cursor)
	}

	var events []FeedEvent
	if err := c.getJSON(ctx, "/api/v1/events", query, &events); err != nil {
		return nil, cursor, err
	}

	next := cursor
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return events, next, nil
}

// GetUserTokens 返回钱包当前持有的全部 "collection/tokenId" 键 (游标分页取完)
func (c *Client) GetUserTokens(ctx context.Context, address string) ([]string, error) {
	var tokens []string
	cursor := ""

	for {
		query := url.Values{}
		query.Set("owner", address)
		query.Set("pagination[first]", "150")
		if cursor != "" {
			query.Set("pagination[cursor]", cursor)
		}

		var page []struct {
			ID         string `json:"id"`
			Collection string `json:"collectionAddress"`
			TokenID    string `json:"tokenId"`
		}
		if err := c.getJSON(ctx, "/api/v1/tokens", query, &page); err != nil {
			return tokens, err
		}
		if len(page) == 0 {
			return tokens, nil
		}

		for _, token := range page {
			tokens = append(tokens, token.Collection+"/"+token.TokenID)
		}
		cursor = page[len(page)-1].ID
	}
}
