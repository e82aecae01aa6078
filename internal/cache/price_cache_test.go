package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpluis/flipance-sub000/internal/model"
)

func TestPriceCache_Floor(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewPriceCache(db)
	ctx := context.Background()

	floor := &model.CollectionFloor{
		Collection:  "0x1111111111111111111111111111111111111111",
		OrderHash:   "0xabc",
		Price:       decimal.RequireFromString("1.5"),
		Marketplace: model.MarketplaceLooksRare,
		CreatedAt:   1700000000000,
	}

	t.Run("set", func(t *testing.T) {
		data, _ := json.Marshal(floor)
		mock.ExpectSet("flipance:floor:0x1111111111111111111111111111111111111111", data, DefaultPriceTTL).SetVal("OK")

		require.NoError(t, cache.SetFloor(ctx, floor))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get", func(t *testing.T) {
		data, _ := json.Marshal(floor)
		mock.ExpectGet("flipance:floor:0x1111111111111111111111111111111111111111").SetVal(string(data))

		got, err := cache.GetFloor(ctx, "0x1111111111111111111111111111111111111111")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "0xabc", got.OrderHash)
		assert.True(t, got.Price.Equal(decimal.RequireFromString("1.5")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("flipance:floor:0xdead").RedisNil()

		got, err := cache.GetFloor(ctx, "0xdead")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPriceCache_Offer(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewPriceCache(db)
	ctx := context.Background()

	offer := &model.Offer{
		Collection:  "0x1111111111111111111111111111111111111111",
		TokenID:     "42",
		OrderHash:   "0xdef",
		Price:       decimal.RequireFromString("1.2"),
		Marketplace: model.MarketplaceLooksRare,
		CreatedAt:   1700000000000,
	}

	t.Run("set", func(t *testing.T) {
		data, _ := json.Marshal(offer)
		mock.ExpectSet("flipance:offer:0x1111111111111111111111111111111111111111:42", data, DefaultPriceTTL).SetVal("OK")

		require.NoError(t, cache.SetOffer(ctx, offer))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get collection level uses empty token id", func(t *testing.T) {
		collectionOffer := &model.Offer{
			Collection: "0x2222222222222222222222222222222222222222",
			Price:      decimal.RequireFromString("0.8"),
			OrderHash:  "0xfff",
		}
		data, _ := json.Marshal(collectionOffer)
		mock.ExpectGet("flipance:offer:0x2222222222222222222222222222222222222222:").SetVal(string(data))

		got, err := cache.GetOffer(ctx, "0x2222222222222222222222222222222222222222", "")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "0xfff", got.OrderHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("flipance:offer:0xdead:1").RedisNil()

		got, err := cache.GetOffer(ctx, "0xdead", "1")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
