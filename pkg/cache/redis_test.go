package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "gateway")
	ctx := context.Background()

	mock.ExpectGet("gateway:price:eth").SetVal(`{"price":1.5}`)
	var v struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, c.Get(ctx, "price:eth", &v))
	assert.Equal(t, 1.5, v.Price)

	mock.ExpectGet("gateway:price:btc").RedisNil()
	assert.ErrorIs(t, c.Get(ctx, "price:btc", &v), ErrCacheMiss)

	mock.ExpectGet("gateway:price:sol").SetErr(errors.New("connection refused"))
	err := c.Get(ctx, "price:sol", &v)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_DeleteByPatternScans(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "gateway")
	ctx := context.Background()

	mock.ExpectScan(0, "gateway:price:*", scanBatch).SetVal([]string{"gateway:price:eth"}, 7)
	mock.ExpectUnlink("gateway:price:eth").SetVal(1)
	mock.ExpectScan(7, "gateway:price:*", scanBatch).SetVal([]string{"gateway:price:btc"}, 0)
	mock.ExpectUnlink("gateway:price:btc").SetVal(1)

	n, err := c.DeleteByPattern(ctx, "price:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_Usage(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCacheFromClient(db, "gateway")
	ctx := context.Background()

	mock.ExpectScan(0, "gateway:*", scanBatch).SetVal([]string{"gateway:a", "gateway:b", "gateway:c"}, 0)
	mock.ExpectInfo("memory", "stats").SetVal("# Memory\r\nused_memory:2097152\r\nused_memory_human:2.00M\r\n# Stats\r\nevicted_keys:4\r\n")

	u, err := c.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Items)
	assert.Equal(t, int64(2097152), u.Bytes)
	assert.Equal(t, int64(4), u.Evicted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "price:eth:celo", GenerateKey("price", "ETH", "", "Celo", ""))
	assert.Equal(t, "risk", GenerateKey("risk"))
	assert.Equal(t, "apy:*", BuildPattern("apy:"))
}
