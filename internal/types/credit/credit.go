package credit

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

// Reasons written to the transaction log by the system itself.
const (
	ReasonSignupBonus     = "Signup Bonus"
	ReasonImageGeneration = "Image Generation"
	ReasonVideoGeneration = "Video Generation"
	ReasonErrorRefund     = "Error Refund"
	ReasonTimeoutRefund   = "Timeout Refund"
)

// Transaction is one append-only ledger row. BalanceAfter is the user's
// balance immediately after this row was applied.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	Seq          int64           `json:"-"`
	UserID       uuid.UUID       `json:"userId"`
	Type         TransactionType `json:"type"`
	Amount       int             `json:"amount"`
	Reason       string          `json:"reason"`
	RelatedID    *string         `json:"relatedId,omitempty"`
	BalanceAfter int             `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type MutationResult struct {
	NewBalance int `json:"newBalance"`
	Amount     int `json:"amount"`
}

type CheckResult struct {
	Credits   int  `json:"credits"`
	Required  int  `json:"required"`
	HasEnough bool `json:"hasEnough"`
}

type BalanceResponse struct {
	Credits int `json:"credits"`
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// ClampLimit normalizes a page size for history listings.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
