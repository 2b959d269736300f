package exchange

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTicker() *Ticker {
	return &Ticker{
		Pair:      "BTC/USD",
		Last:      d("50005"),
		Bid:       d("50000"),
		Ask:       d("50010"),
		Volume24h: d("543.2"),
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryTickerCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		cache := NewMemoryTickerCache(time.Minute)
		require.NoError(t, cache.Set(ctx, "BTC/USD", sampleTicker()))

		got, ok := cache.Get(ctx, "BTC/USD")
		require.True(t, ok)
		assert.True(t, got.Last.Equal(d("50005")))
	})

	t.Run("miss on unknown pair", func(t *testing.T) {
		cache := NewMemoryTickerCache(time.Minute)
		_, ok := cache.Get(ctx, "ETH/USD")
		assert.False(t, ok)
	})

	t.Run("entries expire", func(t *testing.T) {
		cache := NewMemoryTickerCache(time.Nanosecond)
		require.NoError(t, cache.Set(ctx, "BTC/USD", sampleTicker()))
		time.Sleep(time.Millisecond)

		_, ok := cache.Get(ctx, "BTC/USD")
		assert.False(t, ok)
	})
}

func TestRedisTickerCache(t *testing.T) {
	ctx := context.Background()
	ticker := sampleTicker()
	payload, err := json.Marshal(ticker)
	require.NoError(t, err)

	t.Run("set writes with TTL under the key prefix", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisTickerCacheWithClient(db, 5*time.Second)

		mock.ExpectSet("gridrun:ticker:BTC/USD", payload, 5*time.Second).SetVal("OK")
		require.NoError(t, cache.Set(ctx, "BTC/USD", ticker))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get deserializes a hit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisTickerCacheWithClient(db, 5*time.Second)

		mock.ExpectGet("gridrun:ticker:BTC/USD").SetVal(string(payload))
		got, ok := cache.Get(ctx, "BTC/USD")
		require.True(t, ok)
		assert.True(t, got.Last.Equal(ticker.Last))
		assert.Equal(t, ticker.Pair, got.Pair)
	})

	t.Run("redis miss is a cache miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisTickerCacheWithClient(db, 5*time.Second)

		mock.ExpectGet("gridrun:ticker:ETH/USD").RedisNil()
		_, ok := cache.Get(ctx, "ETH/USD")
		assert.False(t, ok)
	})

	t.Run("corrupt payload is a cache miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewRedisTickerCacheWithClient(db, 5*time.Second)

		mock.ExpectGet("gridrun:ticker:BTC/USD").SetVal("{not json")
		_, ok := cache.Get(ctx, "BTC/USD")
		assert.False(t, ok)
	})
}
