package services

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/cache"
	"snapfuseAPI/internal/metrics"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/user"
)

// Ledger owns every balance mutation. A mutation updates users.credits and
// appends the matching credit_transactions row in one database transaction
// while the user row is locked.
type Ledger struct {
	db     *pgxpool.Pool
	cache  *cache.BalanceCache
	logger zerolog.Logger
}

func NewLedger(db *pgxpool.Pool, balanceCache *cache.BalanceCache, logger zerolog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		cache:  balanceCache,
		logger: logger.With().Str("service", "ledger").Logger(),
	}
}

type movement struct {
	typ    credit.TransactionType
	source string
	amount int
}

// committedBalance is a user's balance as of their newest ledger row.
type committedBalance struct {
	seq     int64
	credits int
}

// ledgerTx is the view of an open transaction handed to Ledger.inTx callbacks.
type ledgerTx struct {
	q         *store.Queries
	balances  map[string]committedBalance
	movements []movement
}

// inTx runs fn in one transaction. Balances of touched users are written to
// the cache and metrics recorded only after a successful commit.
func (l *Ledger) inTx(ctx context.Context, fn func(tx *ledgerTx) error) error {
	lt := &ledgerTx{balances: map[string]committedBalance{}}
	err := store.InTx(ctx, l.db, func(q *store.Queries) error {
		lt.q = q
		return fn(lt)
	})
	if err != nil {
		return err
	}

	for clerkID, b := range lt.balances {
		l.cacheBalance(ctx, clerkID, b)
	}
	for _, m := range lt.movements {
		if m.typ == credit.TypeDebit {
			metrics.CreditsDebited.WithLabelValues(m.source).Add(float64(m.amount))
		} else {
			metrics.CreditsGranted.WithLabelValues(m.source).Add(float64(m.amount))
		}
	}
	return nil
}

// cacheBalance stores a balance read or written at ledger version b.seq. If
// Redis rejects the write the key is dropped so readers fall back to the database.
func (l *Ledger) cacheBalance(ctx context.Context, clerkID string, b committedBalance) {
	if _, err := l.cache.SetBalance(ctx, clerkID, b.seq, b.credits); err != nil {
		l.logger.Warn().Err(err).Str("clerk_id", clerkID).Msg("failed to cache balance")
		if err := l.cache.Invalidate(ctx, clerkID); err != nil {
			l.logger.Warn().Err(err).Str("clerk_id", clerkID).Msg("failed to invalidate cached balance")
		}
	}
}

// debit removes amount from a user locked in this transaction.
func (t *ledgerTx) debit(ctx context.Context, u *user.User, amount int, reason, relatedID, source string) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, apperror.ValidationFailed("amount", "amount must be a positive integer")
	}
	if u.Credits < amount {
		metrics.InsufficientCredits.Inc()
		return nil, apperror.InsufficientCredits(u.Credits, amount)
	}
	return t.apply(ctx, u, credit.TypeDebit, amount, reason, relatedID, source)
}

// grant adds amount to a user locked in this transaction.
func (t *ledgerTx) grant(ctx context.Context, u *user.User, amount int, reason, relatedID, source string) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, apperror.ValidationFailed("amount", "amount must be a positive integer")
	}
	return t.apply(ctx, u, credit.TypeCredit, amount, reason, relatedID, source)
}

func (t *ledgerTx) apply(ctx context.Context, u *user.User, typ credit.TransactionType, amount int, reason, relatedID, source string) (*credit.Transaction, error) {
	newBalance := u.Credits + amount
	if typ == credit.TypeDebit {
		newBalance = u.Credits - amount
	}

	if err := t.q.SetUserCredits(ctx, u.ID, newBalance); err != nil {
		return nil, err
	}

	txn := &credit.Transaction{
		UserID:       u.ID,
		Type:         typ,
		Amount:       amount,
		Reason:       reason,
		RelatedID:    optional(relatedID),
		BalanceAfter: newBalance,
	}
	if err := t.q.InsertCreditTransaction(ctx, txn); err != nil {
		return nil, err
	}

	u.Credits = newBalance
	t.balances[u.ClerkID] = committedBalance{seq: txn.Seq, credits: newBalance}
	t.movements = append(t.movements, movement{typ: typ, source: source, amount: amount})
	return txn, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
