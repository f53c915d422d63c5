package store

import (
	"context"
	"fmt"
)

// MarkEventProcessed records a webhook event id. It returns false when the
// event was already recorded, which callers treat as a duplicate delivery.
// Call it inside the transaction that applies the event's effects.
func (q *Queries) MarkEventProcessed(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO processed_webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING`

	tag, err := q.db.Exec(ctx, query, provider, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IsEventProcessed reports whether an event id was already recorded. It is a
// read outside any transaction; MarkEventProcessed stays the authoritative check.
func (q *Queries) IsEventProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM processed_webhook_events WHERE provider = $1 AND event_id = $2
		)`

	var exists bool
	if err := q.db.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to look up webhook event: %w", err)
	}
	return exists, nil
}
