package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/types/credit"
)

func (q *Queries) InsertCreditTransaction(ctx context.Context, t *credit.Transaction) error {
	query := `
		INSERT INTO credit_transactions (user_id, type, amount, reason, related_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, seq, created_at`

	err := q.db.QueryRow(ctx, query, t.UserID, t.Type, t.Amount, t.Reason, t.RelatedID, t.BalanceAfter).
		Scan(&t.ID, &t.Seq, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credit transaction: %w", err)
	}
	return nil
}

// ListCreditTransactions returns the most recently applied transactions first.
func (q *Queries) ListCreditTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]credit.Transaction, error) {
	query := `
		SELECT id, seq, user_id, type, amount, reason, related_id, balance_after, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2`

	rows, err := q.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]credit.Transaction, 0)
	for rows.Next() {
		var t credit.Transaction
		if err := rows.Scan(&t.ID, &t.Seq, &t.UserID, &t.Type, &t.Amount, &t.Reason, &t.RelatedID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// LedgerSum returns credits minus debits over the user's whole log.
func (q *Queries) LedgerSum(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
		FROM credit_transactions
		WHERE user_id = $1`

	var sum int
	if err := q.db.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

// GetBalanceVersion reads a user's balance together with the seq of their
// newest ledger row from one statement snapshot. The seq is 0 for a user
// with no ledger rows.
func (q *Queries) GetBalanceVersion(ctx context.Context, clerkID string) (credits int, seq int64, err error) {
	query := `
		SELECT u.credits,
		       COALESCE((SELECT MAX(t.seq) FROM credit_transactions t WHERE t.user_id = u.id), 0)
		FROM users u
		WHERE u.clerk_id = $1`

	err = q.db.QueryRow(ctx, query, clerkID).Scan(&credits, &seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, apperror.NotFound("user", clerkID)
		}
		return 0, 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return credits, seq, nil
}
