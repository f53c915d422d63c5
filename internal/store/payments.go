package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"snapfuseAPI/internal/types/payment"
)

// InsertPayment writes the payment unless one with the same external id
// exists. inserted reports which happened.
func (q *Queries) InsertPayment(ctx context.Context, p *payment.Payment) (inserted bool, err error) {
	query := `
		INSERT INTO payments (user_id, external_id, type, amount, currency, status, related_id, credits_granted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, created_at`

	err = q.db.QueryRow(ctx, query, p.UserID, p.ExternalID, p.Type, p.Amount, p.Currency, p.Status, p.RelatedID, p.CreditsGranted).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert payment: %w", err)
	}
	return true, nil
}

func (q *Queries) ListPaymentsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]payment.Payment, error) {
	query := `
		SELECT id, user_id, external_id, type, amount, currency, status, related_id, credits_granted, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := q.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]payment.Payment, 0)
	for rows.Next() {
		var p payment.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.ExternalID, &p.Type, &p.Amount, &p.Currency, &p.Status, &p.RelatedID, &p.CreditsGranted, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
