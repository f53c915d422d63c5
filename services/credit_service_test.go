package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/credit"
)

func TestSignupBonusIsGrantedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createUser(t, "user_signup")
	env.createUser(t, "user_signup")

	assert.Equal(t, testSignupCredits, env.balance(t, "user_signup"))

	history, err := env.credits.GetCreditHistory(ctx, "user_signup", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, credit.ReasonSignupBonus, history[0].Reason)
	assert.Equal(t, credit.TypeCredit, history[0].Type)
	assert.Equal(t, testSignupCredits, history[0].BalanceAfter)
	env.requireLedgerConsistent(t, "user_signup")
}

func TestDeductCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")

	res, err := env.credits.DeductCredits(ctx, "user_1", 2, "Manual Debit", "ref_1")
	require.NoError(t, err)
	assert.Equal(t, testSignupCredits-2, res.NewBalance)
	assert.Equal(t, 2, res.Amount)

	t.Run("insufficient leaves balance untouched", func(t *testing.T) {
		_, err := env.credits.DeductCredits(ctx, "user_1", 100, "Manual Debit", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrInsufficientCredits))
		assert.Equal(t, testSignupCredits-2, env.balance(t, "user_1"))
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		for _, amount := range []int{0, -3} {
			_, err := env.credits.DeductCredits(ctx, "user_1", amount, "Manual Debit", "")
			assert.True(t, errors.Is(err, apperror.ErrValidation))
			_, err = env.credits.AddCredits(ctx, "user_1", amount, "Manual Credit", "")
			assert.True(t, errors.Is(err, apperror.ErrValidation))
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := env.credits.DeductCredits(ctx, "user_missing", 1, "Manual Debit", "")
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
	})

	history, err := env.credits.GetCreditHistory(ctx, "user_1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, credit.TypeDebit, history[0].Type, "newest first")
	require.NotNil(t, history[0].RelatedID)
	assert.Equal(t, "ref_1", *history[0].RelatedID)
	env.requireLedgerConsistent(t, "user_1")
}

func TestAddCreditsAndCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")

	res, err := env.credits.AddCredits(ctx, "user_1", 10, "Manual Credit", "")
	require.NoError(t, err)
	assert.Equal(t, testSignupCredits+10, res.NewBalance)

	check, err := env.credits.CheckCredits(ctx, "user_1", 15)
	require.NoError(t, err)
	assert.True(t, check.HasEnough)

	check, err = env.credits.CheckCredits(ctx, "user_1", 16)
	require.NoError(t, err)
	assert.False(t, check.HasEnough)
	assert.Equal(t, 15, check.Credits)
	env.requireLedgerConsistent(t, "user_1")
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_race")
	env.setBalance(t, "user_race", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0

	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.credits.DeductCredits(ctx, "user_race", 1, "Concurrent Debit", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, insufficient)
	assert.Equal(t, 0, env.balance(t, "user_race"))
	env.requireLedgerConsistent(t, "user_race")

	// History lists rows in the order the row lock granted them, whatever
	// order the transactions began in.
	history, err := env.credits.GetCreditHistory(ctx, "user_race", 10)
	require.NoError(t, err)
	require.Len(t, history, 10)
	for i, txn := range history {
		assert.Equal(t, i, txn.BalanceAfter, "row %d", i)
		if i > 0 {
			assert.Less(t, txn.Seq, history[i-1].Seq)
		}
	}
}

func TestDeleteUserCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_gone")

	require.NoError(t, env.users.DeleteUserByClerkID(ctx, "user_gone"))
	require.NoError(t, env.users.DeleteUserByClerkID(ctx, "user_gone"))

	_, err := env.users.GetUserByClerkID(ctx, "user_gone")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	var rows int
	require.NoError(t, env.db.QueryRow(ctx, `SELECT COUNT(*) FROM credit_transactions`).Scan(&rows))
	assert.Zero(t, rows)
}

func TestHistoryFollowsLockOrderNotTransactionStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")
	env.setBalance(t, "user_1", 10)

	// The first transaction begins, then waits while a second debit commits.
	early, err := env.db.Begin(ctx)
	require.NoError(t, err)
	defer early.Rollback(ctx)
	_, err = early.Exec(ctx, `SELECT 1`)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = env.credits.DeductCredits(ctx, "user_1", 1, "Second", "")
	require.NoError(t, err)

	lt := &ledgerTx{q: store.New(early), balances: map[string]committedBalance{}}
	u, err := lt.q.LockUserByClerkID(ctx, "user_1")
	require.NoError(t, err)
	_, err = lt.debit(ctx, u, 1, "First", "", "manual")
	require.NoError(t, err)
	require.NoError(t, early.Commit(ctx))

	history, err := env.credits.GetCreditHistory(ctx, "user_1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "First", history[0].Reason)
	assert.Equal(t, 8, history[0].BalanceAfter)
	assert.Equal(t, env.balance(t, "user_1"), history[0].BalanceAfter)
	assert.Equal(t, 9, history[1].BalanceAfter)
}
