package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*BalanceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *BalanceCache
	ctx := context.Background()

	_, ok, err := c.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.SetBalance(ctx, "user_1", 1, 10)
	assert.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, c.Invalidate(ctx, "user_1"))
	assert.NoError(t, c.Close())
}

func TestBalanceKey(t *testing.T) {
	assert.Equal(t, "snapfuse:credits:user_abc", balanceKey("user_abc"))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}

func TestSetAndGetBalance(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.SetBalance(ctx, "user_1", 3, 42)
	require.NoError(t, err)
	assert.True(t, stored)

	credits, ok, err := c.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, credits)

	raw, err := mr.Get("snapfuse:credits:user_1")
	require.NoError(t, err)
	assert.Equal(t, "3:42", raw)
	assert.Equal(t, balanceTTL, mr.TTL("snapfuse:credits:user_1"))

	mr.FastForward(balanceTTL + time.Second)
	_, ok, err = c.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires after the TTL")
}

func TestSetBalanceKeepsNewestVersion(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	stored, err := c.SetBalance(ctx, "user_1", 11, 0)
	require.NoError(t, err)
	require.True(t, stored)

	// A reader that loaded the balance before the debit committed arrives late.
	stored, err = c.SetBalance(ctx, "user_1", 10, 5)
	require.NoError(t, err)
	assert.False(t, stored)

	stored, err = c.SetBalance(ctx, "user_1", 11, 7)
	require.NoError(t, err)
	assert.False(t, stored, "equal version does not overwrite")

	credits, _, err := c.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 0, credits)

	stored, err = c.SetBalance(ctx, "user_1", 12, 3)
	require.NoError(t, err)
	assert.True(t, stored)
	credits, _, err = c.GetBalance(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 3, credits)
}

func TestInvalidate(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	_, err := c.SetBalance(ctx, "user_1", 1, 5)
	require.NoError(t, err)
	_, err = c.SetBalance(ctx, "user_2", 1, 6)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, "user_1", "user_2"))
	assert.False(t, mr.Exists("snapfuse:credits:user_1"))
	assert.False(t, mr.Exists("snapfuse:credits:user_2"))
}

func TestGetBalanceRejectsMalformedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })

	require.NoError(t, mr.Set("snapfuse:credits:user_1", "17"))
	_, _, err := c.GetBalance(context.Background(), "user_1")
	assert.Error(t, err)
}

func TestCacheErrorsWhenRedisIsDown(t *testing.T) {
	c, mr := setupTestCache(t)
	mr.Close()

	_, err := c.SetBalance(context.Background(), "user_1", 1, 5)
	assert.Error(t, err)
	_, _, err = c.GetBalance(context.Background(), "user_1")
	assert.Error(t, err)
}
