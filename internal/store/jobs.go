package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/types/job"
)

const jobColumns = `
	id, request_id, user_id, prompt, input_url, output_url, status,
	provider_status, error_message, credit_cost, created_at, updated_at`

func scanJob(kind job.Kind, row pgx.Row) (*job.Job, error) {
	j := job.Job{Kind: kind}
	err := row.Scan(
		&j.ID,
		&j.RequestID,
		&j.UserID,
		&j.Prompt,
		&j.InputURL,
		&j.OutputURL,
		&j.Status,
		&j.ProviderStatus,
		&j.ErrorMessage,
		&j.CreditCost,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (q *Queries) InsertJob(ctx context.Context, j *job.Job) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (request_id, user_id, prompt, input_url, status, credit_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`, j.Kind.Table())

	err := q.db.QueryRow(ctx, query, j.RequestID, j.UserID, j.Prompt, j.InputURL, j.Status, j.CreditCost).
		Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.Conflict(string(j.Kind)+" job", j.RequestID)
		}
		return fmt.Errorf("failed to insert %s job: %w", j.Kind, err)
	}
	return nil
}

func (q *Queries) GetJobByRequestID(ctx context.Context, kind job.Kind, requestID string) (*job.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1`, jobColumns, kind.Table())
	j, err := scanJob(kind, q.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound(string(kind)+" job", requestID)
		}
		return nil, fmt.Errorf("failed to get %s job: %w", kind, err)
	}
	return j, nil
}

// LockJobByRequestID holds a row lock on the job until the transaction ends.
func (q *Queries) LockJobByRequestID(ctx context.Context, kind job.Kind, requestID string) (*job.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1 FOR UPDATE`, jobColumns, kind.Table())
	j, err := scanJob(kind, q.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound(string(kind)+" job", requestID)
		}
		return nil, fmt.Errorf("failed to lock %s job: %w", kind, err)
	}
	return j, nil
}

func (q *Queries) UpdateJobStatus(ctx context.Context, j *job.Job) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, provider_status = $3, output_url = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, j.Kind.Table())

	err := q.db.QueryRow(ctx, query, j.ID, j.Status, j.ProviderStatus, j.OutputURL, j.ErrorMessage).Scan(&j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update %s job status: %w", j.Kind, err)
	}
	return nil
}

func (q *Queries) ListJobsByUser(ctx context.Context, kind job.Kind, userID uuid.UUID, limit int) ([]job.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, jobColumns, kind.Table())

	return q.listJobs(ctx, kind, query, userID, limit)
}

// ListStaleJobs returns non-terminal jobs not updated since before.
func (q *Queries) ListStaleJobs(ctx context.Context, kind job.Kind, before time.Time, limit int) ([]job.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status IN ('pending', 'processing', 'unknown') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, jobColumns, kind.Table())

	return q.listJobs(ctx, kind, query, before, limit)
}

func (q *Queries) listJobs(ctx context.Context, kind job.Kind, query string, args ...any) ([]job.Job, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", kind, err)
	}
	defer rows.Close()

	jobs := make([]job.Job, 0)
	for rows.Next() {
		j, err := scanJob(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s job: %w", kind, err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (q *Queries) DeleteJob(ctx context.Context, kind job.Kind, userID uuid.UUID, requestID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND request_id = $2`, kind.Table())
	tag, err := q.db.Exec(ctx, query, userID, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete %s job: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound(string(kind)+" job", requestID)
	}
	return nil
}
