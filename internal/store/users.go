package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/types/subscription"
	"snapfuseAPI/internal/types/user"
)

const userColumns = `
	id, clerk_id, email, first_name, last_name, image_url, credits,
	subscription_plan, subscription_status, subscription_period_end,
	stripe_customer_id, stripe_subscription_id, created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(
		&u.ID,
		&u.ClerkID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.ImageURL,
		&u.Credits,
		&u.SubscriptionPlan,
		&u.SubscriptionStatus,
		&u.SubscriptionPeriod,
		&u.StripeCustomerID,
		&u.StripeSubscriptionID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user with a zero balance. created is false when a user
// with the same clerk id already exists; the existing row is returned then.
func (q *Queries) CreateUser(ctx context.Context, req *user.CreateUserRequest) (u *user.User, created bool, err error) {
	query := `
		INSERT INTO users (clerk_id, email, first_name, last_name, image_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (clerk_id) DO NOTHING
		RETURNING ` + userColumns

	u, err = scanUser(q.db.QueryRow(ctx, query, req.ClerkID, req.Email, req.FirstName, req.LastName, req.ImageURL))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	u, err = q.GetUserByClerkID(ctx, req.ClerkID)
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}

func (q *Queries) GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE clerk_id = $1`
	u, err := scanUser(q.db.QueryRow(ctx, query, clerkID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", clerkID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// LockUserByClerkID reads the user row and holds a row lock on it until the
// surrounding transaction ends. Only meaningful inside InTx.
func (q *Queries) LockUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE clerk_id = $1 FOR UPDATE`
	u, err := scanUser(q.db.QueryRow(ctx, query, clerkID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", clerkID)
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return u, nil
}

func (q *Queries) LockUserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	u, err := scanUser(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id.String())
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return u, nil
}

func (q *Queries) LockUserByStripeCustomerID(ctx context.Context, customerID string) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1 FOR UPDATE`
	u, err := scanUser(q.db.QueryRow(ctx, query, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("stripe customer", customerID)
		}
		return nil, fmt.Errorf("failed to lock user by customer: %w", err)
	}
	return u, nil
}

func (q *Queries) UpdateUserProfile(ctx context.Context, clerkID string, req *user.UpdateProfileRequest) (*user.User, error) {
	query := `
		UPDATE users
		SET email = $2, first_name = $3, last_name = $4, image_url = $5, updated_at = NOW()
		WHERE clerk_id = $1
		RETURNING ` + userColumns

	u, err := scanUser(q.db.QueryRow(ctx, query, clerkID, req.Email, req.FirstName, req.LastName, req.ImageURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", clerkID)
		}
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}
	return u, nil
}

// DeleteUserByClerkID hard-deletes the user; jobs, transactions and payments cascade.
func (q *Queries) DeleteUserByClerkID(ctx context.Context, clerkID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE clerk_id = $1`, clerkID)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) SetUserCredits(ctx context.Context, id uuid.UUID, credits int) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET credits = $2, updated_at = NOW() WHERE id = $1`, id, credits)
	if err != nil {
		return fmt.Errorf("failed to update user credits: %w", err)
	}
	return nil
}

func (q *Queries) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, id, customerID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer: %w", err)
	}
	return nil
}

// UpdateSubscription applies the non-nil fields of upd to the user's
// subscription snapshot.
func (q *Queries) UpdateSubscription(ctx context.Context, id uuid.UUID, upd *subscription.Update) error {
	var plan, status *string
	if upd.Plan != nil {
		p := string(*upd.Plan)
		plan = &p
	}
	status = upd.Status

	query := `
		UPDATE users
		SET subscription_plan       = COALESCE($2, subscription_plan),
		    subscription_status     = COALESCE($3, subscription_status),
		    subscription_period_end = COALESCE($4, subscription_period_end),
		    stripe_customer_id      = COALESCE($5, stripe_customer_id),
		    stripe_subscription_id  = CASE WHEN $7 THEN NULL ELSE COALESCE($6, stripe_subscription_id) END,
		    updated_at              = NOW()
		WHERE id = $1`

	tag, err := q.db.Exec(ctx, query, id, plan, status, upd.CurrentPeriodEnd,
		upd.StripeCustomerID, upd.StripeSubscriptionID, upd.ClearSubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", id.String())
	}
	return nil
}
