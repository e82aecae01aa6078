package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/fpluis/flipance-sub000/internal/model"
)

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrDuplicateEvent   = errors.New("duplicate event")
	ErrMissingArguments = errors.New("missing arguments: event has no transaction hash and no order hash")
)

// EventRepository 事件日志仓储接口
type EventRepository interface {
	// Add 幂等追加: 重复键返回 ErrDuplicateEvent，调用方按良性处理
	Add(ctx context.Context, event *model.NFTEvent) error
	GetByEventID(ctx context.Context, eventID string) (*model.NFTEvent, error)
	// GetWatchedEvents 返回 since 之后的事件及每个事件命中的 watcher 集合。
	// watcher 关联在同一条 SQL 中完成，watcher 量级下逐事件客户端 join 不可扩展。
	GetWatchedEvents(ctx context.Context, since time.Time) ([]*model.WatchedEvent, error)
}

// eventRepository 事件日志仓储实现
type eventRepository struct {
	*Repository
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{
		Repository: NewRepository(db),
	}
}

func (r *eventRepository) Add(ctx context.Context, event *model.NFTEvent) error {
	// 无关联标识的事件无法幂等存储，入库前拒绝
	if !event.HasCorrelationID() {
		return ErrMissingArguments
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().UnixMilli()
	}

	defer observeQuery("insert", "nft_events", time.Now())
	err := r.DB(ctx).Create(event).Error
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	return err
}

func (r *eventRepository) GetByEventID(ctx context.Context, eventID string) (*model.NFTEvent, error) {
	var event model.NFTEvent
	err := r.DB(ctx).Where("event_id = ?", eventID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// watchedEventRow LEFT JOIN 的扁平扫描行
type watchedEventRow struct {
	model.NFTEvent
	WatcherID                      *int64           `gorm:"column:watcher_id"`
	WatcherUserID                  *string          `gorm:"column:watcher_user_id"`
	WatcherServerID                *string          `gorm:"column:watcher_server_id"`
	WatcherType                    *string          `gorm:"column:watcher_type"`
	WatcherAddress                 *string          `gorm:"column:watcher_address"`
	WatcherNickname                *string          `gorm:"column:watcher_nickname"`
	WatcherTokens                  model.StringList `gorm:"column:watcher_tokens"`
	WatcherChannelID               *string          `gorm:"column:watcher_channel_id"`
	WatcherMaxOfferFloorDifference *decimal.Decimal `gorm:"column:watcher_max_offer_floor_difference"`
	WatcherAllowedMarketplaces     model.StringList `gorm:"column:watcher_allowed_marketplaces"`
	WatcherAllowedEvents           model.StringList `gorm:"column:watcher_allowed_events"`
}

// watchedEventsQuery 事件与 watcher 的单遍关联。
//
// watcher 命中条件:
//   - 地址等于事件的 buyer / seller / collection / initiator，或
//   - tokens 集合包含 "collection/tokenId" ("collection/" 表示集合级事件)。
//
// ERC-1155 的非 offer 事件抑制 token 匹配: 同一 token id 下可能是不同的逻辑物品。
const watchedEventsQuery = `
SELECT e.*,
       w.id AS watcher_id,
       w.user_id AS watcher_user_id,
       w.server_id AS watcher_server_id,
       w.type AS watcher_type,
       w.address AS watcher_address,
       w.nickname AS watcher_nickname,
       w.tokens AS watcher_tokens,
       w.channel_id AS watcher_channel_id,
       w.max_offer_floor_difference AS watcher_max_offer_floor_difference,
       w.allowed_marketplaces AS watcher_allowed_marketplaces,
       w.allowed_events AS watcher_allowed_events
FROM nft_events e
LEFT JOIN watchers w ON (
    w.address IN (e.collection, COALESCE(e.buyer, ''), COALESCE(e.seller, ''), COALESCE(e.initiator, ''))
    OR (
        NOT (e.standard = 'ERC-1155' AND e.event_type <> 'offer')
        AND jsonb_exists(w.tokens, e.collection || '/' || COALESCE(e.token_id, ''))
    )
)
WHERE e.created_at >= ?
ORDER BY e.created_at ASC, e.id ASC, w.id ASC`

func (r *eventRepository) GetWatchedEvents(ctx context.Context, since time.Time) ([]*model.WatchedEvent, error) {
	defer observeQuery("watched_events", "nft_events", time.Now())

	var rows []watchedEventRow
	if err := r.DB(ctx).Raw(watchedEventsQuery, since.UnixMilli()).Scan(&rows).Error; err != nil {
		return nil, err
	}

	var events []*model.WatchedEvent
	byEventID := make(map[int64]*model.WatchedEvent)
	for i := range rows {
		row := &rows[i]
		watched, ok := byEventID[row.NFTEvent.ID]
		if !ok {
			watched = &model.WatchedEvent{NFTEvent: row.NFTEvent}
			byEventID[row.NFTEvent.ID] = watched
			events = append(events, watched)
		}
		if row.WatcherID == nil {
			continue
		}
		watched.Watchers = append(watched.Watchers, rowWatcher(row))
	}
	return events, nil
}

func rowWatcher(row *watchedEventRow) *model.Watcher {
	w := &model.Watcher{
		ID:     *row.WatcherID,
		Tokens: row.WatcherTokens,
		Settings: model.Settings{
			MaxOfferFloorDifference: row.WatcherMaxOfferFloorDifference,
			AllowedMarketplaces:     row.WatcherAllowedMarketplaces,
			AllowedEvents:           row.WatcherAllowedEvents,
		},
	}
	if row.WatcherUserID != nil {
		w.UserID = *row.WatcherUserID
	}
	if row.WatcherServerID != nil {
		w.ServerID = *row.WatcherServerID
	}
	if row.WatcherType != nil {
		w.Type = model.WatcherType(*row.WatcherType)
	}
	if row.WatcherAddress != nil {
		w.Address = *row.WatcherAddress
	}
	if row.WatcherNickname != nil {
		w.Nickname = *row.WatcherNickname
	}
	if row.WatcherChannelID != nil {
		w.ChannelID = *row.WatcherChannelID
	}
	return w
}
