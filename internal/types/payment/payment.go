package payment

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSubscription Type = "subscription"
	TypeTopup        Type = "topup"
	TypeRenewal      Type = "renewal"
)

// Payment is written once per external id (checkout session or invoice).
type Payment struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"userId"`
	ExternalID     string    `json:"externalId"`
	Type           Type      `json:"type"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	RelatedID      string    `json:"relatedId"`
	CreditsGranted int       `json:"creditsGranted"`
	CreatedAt      time.Time `json:"createdAt"`
}
