package services

import (
	"context"

	"github.com/rs/zerolog"

	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/user"
)

type CreditService struct {
	ledger *Ledger
	logger zerolog.Logger
}

func NewCreditService(ledger *Ledger, logger zerolog.Logger) *CreditService {
	return &CreditService{
		ledger: ledger,
		logger: logger.With().Str("service", "credits").Logger(),
	}
}

func (s *CreditService) GetUser(ctx context.Context, clerkID string) (*user.User, error) {
	return store.New(s.ledger.db).GetUserByClerkID(ctx, clerkID)
}

// GetUserCredits returns the current balance, reading through the cache.
func (s *CreditService) GetUserCredits(ctx context.Context, clerkID string) (int, error) {
	if credits, ok, err := s.ledger.cache.GetBalance(ctx, clerkID); err != nil {
		s.logger.Warn().Err(err).Str("clerk_id", clerkID).Msg("balance cache read failed")
	} else if ok {
		return credits, nil
	}

	credits, seq, err := store.New(s.ledger.db).GetBalanceVersion(ctx, clerkID)
	if err != nil {
		return 0, err
	}
	s.ledger.cacheBalance(ctx, clerkID, committedBalance{seq: seq, credits: credits})
	return credits, nil
}

func (s *CreditService) CheckCredits(ctx context.Context, clerkID string, required int) (*credit.CheckResult, error) {
	credits, err := s.GetUserCredits(ctx, clerkID)
	if err != nil {
		return nil, err
	}
	return &credit.CheckResult{
		Credits:   credits,
		Required:  required,
		HasEnough: credits >= required,
	}, nil
}

// DeductCredits debits amount, failing with an insufficient-credits error
// and leaving the balance untouched when the user cannot cover it.
func (s *CreditService) DeductCredits(ctx context.Context, clerkID string, amount int, reason, relatedID string) (*credit.MutationResult, error) {
	var result *credit.MutationResult
	err := s.ledger.inTx(ctx, func(tx *ledgerTx) error {
		u, err := tx.q.LockUserByClerkID(ctx, clerkID)
		if err != nil {
			return err
		}
		txn, err := tx.debit(ctx, u, amount, reason, relatedID, "manual")
		if err != nil {
			return err
		}
		result = &credit.MutationResult{NewBalance: txn.BalanceAfter, Amount: amount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("clerk_id", clerkID).Int("amount", amount).Str("reason", reason).
		Int("balance", result.NewBalance).Msg("credits deducted")
	return result, nil
}

func (s *CreditService) AddCredits(ctx context.Context, clerkID string, amount int, reason, relatedID string) (*credit.MutationResult, error) {
	var result *credit.MutationResult
	err := s.ledger.inTx(ctx, func(tx *ledgerTx) error {
		u, err := tx.q.LockUserByClerkID(ctx, clerkID)
		if err != nil {
			return err
		}
		txn, err := tx.grant(ctx, u, amount, reason, relatedID, "manual")
		if err != nil {
			return err
		}
		result = &credit.MutationResult{NewBalance: txn.BalanceAfter, Amount: amount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("clerk_id", clerkID).Int("amount", amount).Str("reason", reason).
		Int("balance", result.NewBalance).Msg("credits added")
	return result, nil
}

func (s *CreditService) GetCreditHistory(ctx context.Context, clerkID string, limit int) ([]credit.Transaction, error) {
	q := store.New(s.ledger.db)
	u, err := q.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return nil, err
	}
	return q.ListCreditTransactions(ctx, u.ID, credit.ClampLimit(limit))
}
