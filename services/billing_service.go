package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/store"
	"snapfuseAPI/internal/types/credit"
	"snapfuseAPI/internal/types/payment"
	"snapfuseAPI/internal/types/subscription"
	"snapfuseAPI/internal/types/user"
)

const stripeProvider = "stripe"

type EventOutcome string

const (
	OutcomeApplied   EventOutcome = "applied"
	OutcomeDuplicate EventOutcome = "duplicate"
	OutcomeIgnored   EventOutcome = "ignored"
)

type BillingService struct {
	ledger      *Ledger
	stripe      StripeAPI
	directory   UserDirectory
	catalog     *subscription.Catalog
	frontendURL string
	logger      zerolog.Logger
}

func NewBillingService(ledger *Ledger, stripeAPI StripeAPI, directory UserDirectory, catalog *subscription.Catalog, frontendURL string, logger zerolog.Logger) *BillingService {
	return &BillingService{
		ledger:      ledger,
		stripe:      stripeAPI,
		directory:   directory,
		catalog:     catalog,
		frontendURL: frontendURL,
		logger:      logger.With().Str("service", "billing").Logger(),
	}
}

func (s *BillingService) pool() *pgxpool.Pool {
	return s.ledger.db
}

// getOrCreateCustomer returns the user's Stripe customer, creating it on first use.
func (s *BillingService) getOrCreateCustomer(ctx context.Context, u *user.User) (string, error) {
	if u.StripeCustomerID != nil && *u.StripeCustomerID != "" {
		return *u.StripeCustomerID, nil
	}

	email := u.Email
	if email == "" && s.directory != nil {
		e, err := s.directory.PrimaryEmail(ctx, u.ClerkID)
		if err != nil {
			s.logger.Warn().Err(err).Str("clerk_id", u.ClerkID).Msg("failed to look up email from auth provider")
		}
		email = e
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{"userId": u.ClerkID},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name := u.FullName(); name != "" {
		params.Name = stripe.String(name)
	}

	cust, err := s.stripe.CreateCustomer(params)
	if err != nil {
		s.logger.Error().Err(err).Str("clerk_id", u.ClerkID).Msg("failed to create Stripe customer")
		return "", apperror.Upstream(stripeProvider, err)
	}
	if err := store.New(s.pool()).SetStripeCustomerID(ctx, u.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (s *BillingService) CreateSubscriptionCheckout(ctx context.Context, clerkID string, planID subscription.Plan) (string, error) {
	plan, ok := s.catalog.Plan(planID)
	if !ok || !plan.ID.IsPaid() {
		return "", apperror.ValidationFailed("planId", fmt.Sprintf("unknown plan %q", planID))
	}
	if plan.PriceID == "" {
		return "", apperror.ValidationFailed("planId", fmt.Sprintf("plan %q is not purchasable", planID))
	}

	u, err := store.New(s.pool()).GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return "", err
	}
	customerID, err := s.getOrCreateCustomer(ctx, u)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(plan.PriceID), Quantity: stripe.Int64(1)}},
		SuccessURL: stripe.String(s.frontendURL + "/billing?status=success"),
		CancelURL:  stripe.String(s.frontendURL + "/billing?status=cancel"),
		Metadata: map[string]string{
			"userId": clerkID,
			"type":   string(payment.TypeSubscription),
			"planId": string(plan.ID),
		},
	}
	sess, err := s.stripe.CreateCheckoutSession(params)
	if err != nil {
		s.logger.Error().Err(err).Str("plan", string(plan.ID)).Msg("failed to create subscription checkout")
		return "", apperror.Upstream(stripeProvider, err)
	}
	return sess.URL, nil
}

// CreateTopupCheckout starts a one-off credit purchase. Top-ups are only sold
// to users on a paid plan.
func (s *BillingService) CreateTopupCheckout(ctx context.Context, clerkID, topupID string) (string, error) {
	topup, ok := s.catalog.Topup(topupID)
	if !ok || topup.PriceID == "" {
		return "", apperror.ValidationFailed("topupId", fmt.Sprintf("unknown top-up %q", topupID))
	}

	u, err := store.New(s.pool()).GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return "", err
	}
	if !u.SubscriptionPlan.IsPaid() {
		return "", apperror.Forbidden("top-ups are only available on a paid plan")
	}
	customerID, err := s.getOrCreateCustomer(ctx, u)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(topup.PriceID), Quantity: stripe.Int64(1)}},
		SuccessURL: stripe.String(s.frontendURL + "/billing?status=success"),
		CancelURL:  stripe.String(s.frontendURL + "/billing?status=cancel"),
		Metadata: map[string]string{
			"userId":  clerkID,
			"type":    string(payment.TypeTopup),
			"topupId": topup.ID,
		},
	}
	sess, err := s.stripe.CreateCheckoutSession(params)
	if err != nil {
		s.logger.Error().Err(err).Str("topup", topup.ID).Msg("failed to create top-up checkout")
		return "", apperror.Upstream(stripeProvider, err)
	}
	return sess.URL, nil
}

func (s *BillingService) CreatePortalSession(ctx context.Context, clerkID string) (string, error) {
	u, err := store.New(s.pool()).GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID == nil || *u.StripeCustomerID == "" {
		return "", apperror.ValidationFailed("customer", "no billing account exists for this user")
	}

	sess, err := s.stripe.CreatePortalSession(&stripe.BillingPortalSessionParams{
		Customer:  u.StripeCustomerID,
		ReturnURL: stripe.String(s.frontendURL + "/billing"),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("clerk_id", clerkID).Msg("failed to create billing portal session")
		return "", apperror.Upstream(stripeProvider, err)
	}
	return sess.URL, nil
}

func (s *BillingService) ListPayments(ctx context.Context, clerkID string, limit int) ([]payment.Payment, error) {
	q := store.New(s.pool())
	u, err := q.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return nil, err
	}
	return q.ListPaymentsByUser(ctx, u.ID, credit.ClampLimit(limit))
}

// UpdateSubscription overwrites the user's subscription snapshot with the
// non-nil fields of upd.
func (s *BillingService) UpdateSubscription(ctx context.Context, clerkID string, upd *subscription.Update) error {
	return store.InTx(ctx, s.pool(), func(q *store.Queries) error {
		u, err := q.LockUserByClerkID(ctx, clerkID)
		if err != nil {
			return err
		}
		return q.UpdateSubscription(ctx, u.ID, upd)
	})
}

// RecordPayment stores p once per external id. A repeat returns false.
func (s *BillingService) RecordPayment(ctx context.Context, clerkID string, p *payment.Payment) (bool, error) {
	q := store.New(s.pool())
	u, err := q.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		return false, err
	}
	p.UserID = u.ID
	return q.InsertPayment(ctx, p)
}

// HandleEvent reconciles one verified Stripe event. The event id is recorded
// in the same transaction as its effects, so a redelivered event applies nothing.
func (s *BillingService) HandleEvent(ctx context.Context, event stripe.Event) (EventOutcome, error) {
	log := s.logger.With().Str("event_id", event.ID).Str("event_type", string(event.Type)).Logger()

	// Replays short-circuit here so they never reach the Stripe API.
	seen, err := store.New(s.pool()).IsEventProcessed(ctx, stripeProvider, event.ID)
	if err != nil {
		return "", err
	}
	if seen {
		log.Info().Msg("Stripe event already processed")
		return OutcomeDuplicate, nil
	}

	var apply func(tx *ledgerTx) (EventOutcome, error)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := decodeEvent(event, &sess); err != nil {
			return "", err
		}
		var sub *stripe.Subscription
		if sess.Subscription != nil && sess.Subscription.ID != "" {
			fetched, err := s.stripe.GetSubscription(sess.Subscription.ID)
			if err != nil {
				return "", apperror.Upstream(stripeProvider, err)
			}
			sub = fetched
		}
		apply = func(tx *ledgerTx) (EventOutcome, error) {
			return s.applyCheckoutCompleted(ctx, tx, &sess, sub, log)
		}

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := decodeEvent(event, &sub); err != nil {
			return "", err
		}
		apply = func(tx *ledgerTx) (EventOutcome, error) {
			return s.applySubscriptionUpdated(ctx, tx, &sub, log)
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := decodeEvent(event, &sub); err != nil {
			return "", err
		}
		apply = func(tx *ledgerTx) (EventOutcome, error) {
			return s.applySubscriptionDeleted(ctx, tx, &sub, log)
		}

	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := decodeEvent(event, &inv); err != nil {
			return "", err
		}
		apply = func(tx *ledgerTx) (EventOutcome, error) {
			return s.applyInvoicePaid(ctx, tx, &inv, log)
		}

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := decodeEvent(event, &inv); err != nil {
			return "", err
		}
		apply = func(tx *ledgerTx) (EventOutcome, error) {
			return s.applyInvoiceFailed(ctx, tx, &inv, log)
		}

	default:
		log.Debug().Msg("unhandled Stripe event type")
		return OutcomeIgnored, nil
	}

	var outcome EventOutcome
	err = s.ledger.inTx(ctx, func(tx *ledgerTx) error {
		fresh, err := tx.q.MarkEventProcessed(ctx, stripeProvider, event.ID, string(event.Type))
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}
		outcome, err = apply(tx)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to apply Stripe event")
		return "", err
	}

	log.Info().Str("outcome", string(outcome)).Msg("Stripe event reconciled")
	return outcome, nil
}

func decodeEvent(event stripe.Event, v any) error {
	if event.Data == nil {
		return apperror.ValidationFailed("data", "event has no data")
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return apperror.ValidationFailed("data", fmt.Sprintf("malformed %s payload", event.Type))
	}
	return nil
}

// lockEventUser finds the user an event belongs to, by metadata user id
// first and Stripe customer id second.
func lockEventUser(ctx context.Context, tx *ledgerTx, clerkID, customerID string) (*user.User, error) {
	if clerkID != "" {
		return tx.q.LockUserByClerkID(ctx, clerkID)
	}
	if customerID != "" {
		return tx.q.LockUserByStripeCustomerID(ctx, customerID)
	}
	return nil, apperror.ValidationFailed("metadata", "cannot resolve user: no userId metadata or customer id")
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func (s *BillingService) applyCheckoutCompleted(ctx context.Context, tx *ledgerTx, sess *stripe.CheckoutSession, sub *stripe.Subscription, log zerolog.Logger) (EventOutcome, error) {
	u, err := lockEventUser(ctx, tx, sess.Metadata["userId"], customerID(sess.Customer))
	if err != nil {
		return "", err
	}

	kind := payment.Type(sess.Metadata["type"])
	if kind == "" {
		kind = payment.TypeTopup
		if sess.Mode == stripe.CheckoutSessionModeSubscription {
			kind = payment.TypeSubscription
		}
	}

	p := &payment.Payment{
		UserID:     u.ID,
		ExternalID: sess.ID,
		Type:       kind,
		Amount:     sess.AmountTotal,
		Currency:   string(sess.Currency),
		Status:     "completed",
	}

	var credits int
	var reason string

	switch kind {
	case payment.TypeSubscription:
		plan, ok := s.catalog.Plan(subscription.Plan(sess.Metadata["planId"]))
		if !ok {
			plan, ok = s.catalog.PlanByPriceID(subscriptionPriceID(sub))
		}
		if !ok {
			log.Warn().Str("plan", sess.Metadata["planId"]).Msg("checkout references an unknown plan")
			return OutcomeIgnored, nil
		}

		status := subscription.StatusActive
		upd := &subscription.Update{
			Plan:             &plan.ID,
			Status:           &status,
			StripeCustomerID: optional(customerID(sess.Customer)),
		}
		if sub != nil {
			upd.StripeSubscriptionID = optional(sub.ID)
			upd.CurrentPeriodEnd = unixTime(sub.CurrentPeriodEnd)
		}
		if err := tx.q.UpdateSubscription(ctx, u.ID, upd); err != nil {
			return "", err
		}
		u.SubscriptionPlan = plan.ID

		p.RelatedID = string(plan.ID)
		credits = plan.MonthlyCredits
		reason = "Subscription: " + plan.Name

	case payment.TypeTopup:
		topup, ok := s.catalog.Topup(sess.Metadata["topupId"])
		if !ok {
			log.Warn().Str("topup", sess.Metadata["topupId"]).Msg("checkout references an unknown top-up")
			return OutcomeIgnored, nil
		}
		if cust := customerID(sess.Customer); cust != "" && u.StripeCustomerID == nil {
			if err := tx.q.SetStripeCustomerID(ctx, u.ID, cust); err != nil {
				return "", err
			}
		}
		p.RelatedID = topup.ID
		credits = topup.Credits
		reason = "Top-up: " + topup.Name

	default:
		log.Warn().Str("type", string(kind)).Msg("checkout has unknown type metadata")
		return OutcomeIgnored, nil
	}

	return s.grantForPayment(ctx, tx, u, p, credits, reason, log)
}

// grantForPayment records p and grants credits once per payment external id.
func (s *BillingService) grantForPayment(ctx context.Context, tx *ledgerTx, u *user.User, p *payment.Payment, credits int, reason string, log zerolog.Logger) (EventOutcome, error) {
	p.CreditsGranted = credits
	inserted, err := tx.q.InsertPayment(ctx, p)
	if err != nil {
		return "", err
	}
	if !inserted {
		log.Info().Str("external_id", p.ExternalID).Msg("payment already recorded")
		return OutcomeDuplicate, nil
	}

	if credits > 0 {
		source := string(p.Type)
		if _, err := tx.grant(ctx, u, credits, reason, p.ExternalID, source); err != nil {
			return "", err
		}
	}
	log.Info().Str("clerk_id", u.ClerkID).Str("payment_type", string(p.Type)).Int("credits", credits).
		Int("balance", u.Credits).Msg("payment applied")
	return OutcomeApplied, nil
}

func (s *BillingService) applySubscriptionUpdated(ctx context.Context, tx *ledgerTx, sub *stripe.Subscription, log zerolog.Logger) (EventOutcome, error) {
	u, err := lockEventUser(ctx, tx, sub.Metadata["userId"], customerID(sub.Customer))
	if errors.Is(err, apperror.ErrNotFound) {
		log.Warn().Str("customer", customerID(sub.Customer)).Msg("subscription update for unknown customer")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	status := string(sub.Status)
	upd := &subscription.Update{
		Status:               &status,
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
		StripeSubscriptionID: optional(sub.ID),
	}
	if plan, ok := s.catalog.PlanByPriceID(subscriptionPriceID(sub)); ok {
		upd.Plan = &plan.ID
	}
	if err := tx.q.UpdateSubscription(ctx, u.ID, upd); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (s *BillingService) applySubscriptionDeleted(ctx context.Context, tx *ledgerTx, sub *stripe.Subscription, log zerolog.Logger) (EventOutcome, error) {
	u, err := lockEventUser(ctx, tx, sub.Metadata["userId"], customerID(sub.Customer))
	if errors.Is(err, apperror.ErrNotFound) {
		log.Warn().Str("customer", customerID(sub.Customer)).Msg("subscription deletion for unknown customer")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	plan := subscription.PlanFree
	status := subscription.StatusCanceled
	upd := &subscription.Update{
		Plan:                &plan,
		Status:              &status,
		CurrentPeriodEnd:    unixTime(sub.CurrentPeriodEnd),
		ClearSubscriptionID: true,
	}
	if err := tx.q.UpdateSubscription(ctx, u.ID, upd); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func invoicePriceID(inv *stripe.Invoice) string {
	if inv.Lines == nil {
		return ""
	}
	for _, line := range inv.Lines.Data {
		if line != nil && line.Price != nil && line.Price.ID != "" {
			return line.Price.ID
		}
	}
	return ""
}

func invoicePeriodEnd(inv *stripe.Invoice) *time.Time {
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End != 0 {
				return unixTime(line.Period.End)
			}
		}
	}
	return unixTime(inv.PeriodEnd)
}

// applyInvoicePaid grants the plan's monthly credits on renewal. The first
// invoice of a subscription is skipped because checkout completion already
// granted that period.
func (s *BillingService) applyInvoicePaid(ctx context.Context, tx *ledgerTx, inv *stripe.Invoice, log zerolog.Logger) (EventOutcome, error) {
	if inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate {
		return OutcomeIgnored, nil
	}
	if inv.Subscription == nil {
		return OutcomeIgnored, nil
	}

	priceID := invoicePriceID(inv)
	plan, ok := s.catalog.PlanByPriceID(priceID)
	if !ok {
		log.Warn().Str("price_id", priceID).Msg("invoice price does not match any plan")
		return OutcomeIgnored, nil
	}

	u, err := lockEventUser(ctx, tx, "", customerID(inv.Customer))
	if errors.Is(err, apperror.ErrNotFound) {
		log.Warn().Str("customer", customerID(inv.Customer)).Msg("invoice for unknown customer")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	status := subscription.StatusActive
	upd := &subscription.Update{
		Plan:                 &plan.ID,
		Status:               &status,
		CurrentPeriodEnd:     invoicePeriodEnd(inv),
		StripeSubscriptionID: optional(inv.Subscription.ID),
	}
	if err := tx.q.UpdateSubscription(ctx, u.ID, upd); err != nil {
		return "", err
	}

	p := &payment.Payment{
		UserID:     u.ID,
		ExternalID: inv.ID,
		Type:       payment.TypeRenewal,
		Amount:     inv.AmountPaid,
		Currency:   string(inv.Currency),
		Status:     "paid",
		RelatedID:  string(plan.ID),
	}
	return s.grantForPayment(ctx, tx, u, p, plan.MonthlyCredits, "Renewal: "+plan.Name, log)
}

func (s *BillingService) applyInvoiceFailed(ctx context.Context, tx *ledgerTx, inv *stripe.Invoice, log zerolog.Logger) (EventOutcome, error) {
	u, err := lockEventUser(ctx, tx, "", customerID(inv.Customer))
	if errors.Is(err, apperror.ErrNotFound) {
		log.Warn().Str("customer", customerID(inv.Customer)).Msg("failed invoice for unknown customer")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	status := subscription.StatusPastDue
	if err := tx.q.UpdateSubscription(ctx, u.ID, &subscription.Update{Status: &status}); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}
