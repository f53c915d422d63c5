package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/cache"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/user"
)

func newCachedTestEnv(t *testing.T) (*testEnv, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return newTestEnvWithCache(t, c), mr
}

func TestGetUserCreditsReadsThroughCache(t *testing.T) {
	env, mr := newCachedTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")

	credits, err := env.credits.GetUserCredits(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, testSignupCredits, credits)

	// Served from Redis without touching the database.
	_, err = env.db.Exec(ctx, `UPDATE users SET credits = 99 WHERE clerk_id = 'user_1'`)
	require.NoError(t, err)
	credits, err = env.credits.GetUserCredits(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, testSignupCredits, credits)

	mr.FlushAll()
	credits, err = env.credits.GetUserCredits(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 99, credits)
}

func TestLedgerWritesCommittedBalanceToCache(t *testing.T) {
	env, _ := newCachedTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")

	_, err := env.credits.GetUserCredits(ctx, "user_1")
	require.NoError(t, err)

	_, err = env.credits.DeductCredits(ctx, "user_1", 2, "Test Adjustment", "")
	require.NoError(t, err)
	credits, err := env.credits.GetUserCredits(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, testSignupCredits-2, credits)

	_, err = env.credits.AddCredits(ctx, "user_1", 10, "Test Adjustment", "")
	require.NoError(t, err)
	check, err := env.credits.CheckCredits(ctx, "user_1", 13)
	require.NoError(t, err)
	assert.True(t, check.HasEnough)
	assert.Equal(t, testSignupCredits+8, check.Credits)
}

func TestSlowReaderCannotCacheStaleBalance(t *testing.T) {
	env, _ := newCachedTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")

	// A reader misses the cache and loads the balance from the database...
	staleCredits, staleSeq, err := store.New(env.db).GetBalanceVersion(ctx, "user_1")
	require.NoError(t, err)
	require.Equal(t, testSignupCredits, staleCredits)

	// ...a debit commits before the reader writes the cache...
	_, err = env.credits.DeductCredits(ctx, "user_1", testSignupCredits, "Test Adjustment", "")
	require.NoError(t, err)

	// ...and the reader's late write is rejected.
	env.ledger.cacheBalance(ctx, "user_1", committedBalance{seq: staleSeq, credits: staleCredits})

	check, err := env.credits.CheckCredits(ctx, "user_1", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Credits)
	assert.False(t, check.HasEnough)
}

func TestGetBalanceVersionTracksLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := store.New(env.db)

	noBonus := NewUserService(env.ledger, 0, zerolog.Nop())
	_, err := noBonus.CreateUser(ctx, &user.CreateUserRequest{ClerkID: "user_0", Email: "user_0@example.com"})
	require.NoError(t, err)
	credits, seq, err := q.GetBalanceVersion(ctx, "user_0")
	require.NoError(t, err)
	assert.Equal(t, 0, credits)
	assert.Zero(t, seq, "no ledger rows yet")

	res, err := env.credits.AddCredits(ctx, "user_0", 4, "Test Adjustment", "")
	require.NoError(t, err)
	history, err := env.credits.GetCreditHistory(ctx, "user_0", 1)
	require.NoError(t, err)

	credits, seq, err = q.GetBalanceVersion(ctx, "user_0")
	require.NoError(t, err)
	assert.Equal(t, res.NewBalance, credits)
	assert.Equal(t, history[0].Seq, seq)

	_, _, err = q.GetBalanceVersion(ctx, "user_missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
