package services

import (
	"context"

	"github.com/rs/zerolog"

	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/user"
)

type UserService struct {
	ledger        *Ledger
	signupCredits int
	logger        zerolog.Logger
}

func NewUserService(ledger *Ledger, signupCredits int, logger zerolog.Logger) *UserService {
	return &UserService{
		ledger:        ledger,
		signupCredits: signupCredits,
		logger:        logger.With().Str("service", "users").Logger(),
	}
}

// CreateUser inserts the user and grants the signup bonus as a credit
// transaction. Repeating it for an existing clerk id changes nothing.
func (s *UserService) CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error) {
	var created *user.User
	var isNew bool
	err := s.ledger.inTx(ctx, func(tx *ledgerTx) error {
		u, ok, err := tx.q.CreateUser(ctx, req)
		if err != nil {
			return err
		}
		created, isNew = u, ok
		if !ok || s.signupCredits <= 0 {
			return nil
		}
		_, err = tx.grant(ctx, u, s.signupCredits, credit.ReasonSignupBonus, "", "signup")
		return err
	})
	if err != nil {
		return nil, err
	}

	if isNew {
		s.logger.Info().Str("clerk_id", created.ClerkID).Int("credits", created.Credits).Msg("user created")
	} else {
		s.logger.Debug().Str("clerk_id", created.ClerkID).Msg("user already exists")
	}
	return created, nil
}

func (s *UserService) GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	return store.New(s.ledger.db).GetUserByClerkID(ctx, clerkID)
}

func (s *UserService) UpdateProfileByClerkID(ctx context.Context, clerkID string, req *user.UpdateProfileRequest) (*user.User, error) {
	u, err := store.New(s.ledger.db).UpdateUserProfile(ctx, clerkID, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("clerk_id", clerkID).Msg("user profile synced")
	return u, nil
}

// DeleteUserByClerkID removes the user with all jobs, transactions and
// payments. Deleting an unknown user is not an error.
func (s *UserService) DeleteUserByClerkID(ctx context.Context, clerkID string) error {
	deleted, err := store.New(s.ledger.db).DeleteUserByClerkID(ctx, clerkID)
	if err != nil {
		return err
	}
	if err := s.ledger.cache.Invalidate(ctx, clerkID); err != nil {
		s.logger.Warn().Err(err).Str("clerk_id", clerkID).Msg("failed to invalidate cached balance")
	}
	s.logger.Info().Str("clerk_id", clerkID).Bool("deleted", deleted).Msg("user deleted")
	return nil
}
