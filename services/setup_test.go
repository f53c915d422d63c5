package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"snapfuseAPI/internal/cache"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/testutil"
	"snapfuseAPI/internal/types/subscription"
	"snapfuseAPI/internal/types/user"
)

const testSignupCredits = 5

var testPrices = subscription.PriceIDs{
	Starter:     "price_starter",
	Pro:         "price_pro",
	Enterprise:  "price_enterprise",
	TopupSmall:  "price_topup_small",
	TopupMedium: "price_topup_medium",
	TopupLarge:  "price_topup_large",
}

type testEnv struct {
	db      *pgxpool.Pool
	ledger  *Ledger
	users   *UserService
	credits *CreditService
	jobs    *JobService
	billing *BillingService
	stripe  *fakeStripe
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCache(t, nil)
}

func newTestEnvWithCache(t *testing.T, balanceCache *cache.BalanceCache) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zerolog.Nop()

	ledger := NewLedger(db, balanceCache, logger)
	fs := &fakeStripe{subscriptions: map[string]*stripe.Subscription{}}
	return &testEnv{
		db:      db,
		ledger:  ledger,
		users:   NewUserService(ledger, testSignupCredits, logger),
		credits: NewCreditService(ledger, logger),
		jobs:    NewJobService(ledger, logger),
		billing: NewBillingService(ledger, fs, staticDirectory{}, subscription.NewCatalog(testPrices), "https://app.test", logger),
		stripe:  fs,
	}
}

func (e *testEnv) createUser(t *testing.T, clerkID string) *user.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), &user.CreateUserRequest{
		ClerkID:   clerkID,
		Email:     clerkID + "@example.com",
		FirstName: "Test",
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) setBalance(t *testing.T, clerkID string, credits int) {
	t.Helper()
	u, err := e.users.GetUserByClerkID(context.Background(), clerkID)
	require.NoError(t, err)
	delta := credits - u.Credits
	switch {
	case delta > 0:
		_, err = e.credits.AddCredits(context.Background(), clerkID, delta, "Test Adjustment", "")
	case delta < 0:
		_, err = e.credits.DeductCredits(context.Background(), clerkID, -delta, "Test Adjustment", "")
	}
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, clerkID string) int {
	t.Helper()
	u, err := e.users.GetUserByClerkID(context.Background(), clerkID)
	require.NoError(t, err)
	return u.Credits
}

// requireLedgerConsistent asserts the stored balance equals the sum of the
// user's transaction log.
func (e *testEnv) requireLedgerConsistent(t *testing.T, clerkID string) {
	t.Helper()
	ctx := context.Background()
	q := store.New(e.db)
	u, err := q.GetUserByClerkID(ctx, clerkID)
	require.NoError(t, err)
	sum, err := q.LedgerSum(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Credits, sum, "balance must equal ledger sum")
}

type staticDirectory struct{}

func (staticDirectory) PrimaryEmail(_ context.Context, clerkID string) (string, error) {
	return clerkID + "@directory.test", nil
}

type fakeStripe struct {
	customers     []*stripe.CustomerParams
	checkouts     []*stripe.CheckoutSessionParams
	subscriptions map[string]*stripe.Subscription
	subLookups    int
}

func (f *fakeStripe) CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.customers = append(f.customers, params)
	return &stripe.Customer{ID: "cus_test_" + params.Metadata["userId"]}, nil
}

func (f *fakeStripe) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.checkouts = append(f.checkouts, params)
	return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func (f *fakeStripe) CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/" + *params.Customer}, nil
}

func (f *fakeStripe) GetSubscription(id string) (*stripe.Subscription, error) {
	f.subLookups++
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "no such subscription"}
	}
	return sub, nil
}

// stripeEvent wraps a raw API object the way a verified webhook delivers it.
func stripeEvent(id string, typ stripe.EventType, object string) stripe.Event {
	return stripe.Event{ID: id, Type: typ, Data: &stripe.EventData{Raw: json.RawMessage(object)}}
}
