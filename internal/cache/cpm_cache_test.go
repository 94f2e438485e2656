package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func TestCpmCache_RoundTrip(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	c := NewCpmCache(adapter, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, 1, 2)
	assert.False(t, ok, "miss on empty cache")

	pos := &model.CpmPosition{
		AccountID:  1,
		ProgramID:  2,
		TotalMiles: 140000,
		TotalCost:  3500.00,
		Cpm:        25.00,
	}
	c.Set(ctx, 1, 2, pos)

	got, ok := c.Get(ctx, 1, 2)
	require.True(t, ok)
	assert.Equal(t, pos.TotalMiles, got.TotalMiles)
	assert.InDelta(t, pos.Cpm, got.Cpm, 1e-9)

	t.Run("pairs are independent", func(t *testing.T) {
		_, ok := c.Get(ctx, 1, 3)
		assert.False(t, ok)
	})
}

func TestCpmCache_Invalidate(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	c := NewCpmCache(adapter, time.Minute)
	ctx := context.Background()

	c.Set(ctx, 1, 2, &model.CpmPosition{AccountID: 1, ProgramID: 2, TotalMiles: 1000})
	c.Invalidate(ctx, 1, 2)

	_, ok := c.Get(ctx, 1, 2)
	assert.False(t, ok)
}

func TestCpmCache_Expiry(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	c := NewCpmCache(adapter, time.Minute)
	ctx := context.Background()

	c.Set(ctx, 1, 2, &model.CpmPosition{AccountID: 1, ProgramID: 2, TotalMiles: 1000})

	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, 1, 2)
	assert.False(t, ok, "entries expire without invalidation")
}

func TestCpmCache_CorruptEntry(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	c := NewCpmCache(adapter, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set("cpm:1:2", "not json"))

	_, ok := c.Get(ctx, 1, 2)
	assert.False(t, ok)
	assert.False(t, mr.Exists("cpm:1:2"), "corrupt entry dropped")
}
